package health

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
)

// AgentSource is the subset of the Registry the health monitor depends
// on. The monitor is the sole writer of the Health sub-structure, via
// UpdateHealth.
type AgentSource interface {
	ListAll(ctx context.Context) ([]*agent.Agent, error)
	UpdateHealth(ctx context.Context, id string, mutate func(*agent.Health)) (*agent.Agent, error)
}

// Publisher is the subset of Bus used to emit health events.
type Publisher interface {
	Publish(ctx context.Context, channel string, eventType bus.EventType, data map[string]interface{}) error
}

// Monitor runs the per-agent health state machine and circuit
// breaker. Health status (healthy/degraded/...) is a computed,
// in-memory value surfaced only via bus events, never persisted on
// the agent record itself; ConsecutiveFailures/CircuitBreakerTripped
// live on agent.Health and are written exclusively by this type.
type Monitor struct {
	config    Config
	agents    AgentSource
	publisher Publisher
	logger    *log.Logger

	mu     sync.Mutex
	states map[string]*agentState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor constructs a Monitor. A zero-value Config reverts to
// DefaultConfig.
func NewMonitor(cfg Config, agents AgentSource, publisher Publisher, logger *log.Logger) *Monitor {
	if cfg.HeartbeatInterval == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = log.New()
	}
	return &Monitor{
		config:    cfg,
		agents:    agents,
		publisher: publisher,
		logger:    logger,
		states:    make(map[string]*agentState),
	}
}

// Start runs the heartbeat tick loop until ctx is cancelled or Stop is
// called.
func (m *Monitor) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if err := m.Tick(m.ctx); err != nil {
					m.logger.WithError(err).Warn("Health monitor tick failed")
				}
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Tick runs a single evaluation pass over every registered agent.
// Exported so tests can drive the state machine deterministically
// without a real ticker.
func (m *Monitor) Tick(ctx context.Context) error {
	agents, err := m.agents.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, ag := range agents {
		m.evaluate(ctx, ag, now)
	}
	return nil
}

func (m *Monitor) stateFor(id string) *agentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &agentState{status: StatusHealthy, circuit: CircuitClosed}
		m.states[id] = st
	}
	return st
}

func (m *Monitor) evaluate(ctx context.Context, ag *agent.Agent, now time.Time) {
	st := m.stateFor(ag.ID)

	missed := now.Sub(ag.Health.LastHeartbeat)
	var circuitOpenedNow bool
	var failures int

	if missed > m.config.HealthTimeout {
		failures = m.onMissedHeartbeat(ctx, ag, st, now)
	} else {
		m.onHeartbeatReceived(ctx, ag, st)
		failures = 0
	}

	if st.circuit == CircuitClosed && (failures >= m.config.CircuitBreakerThreshold || st.status == StatusFailed) {
		m.openCircuit(ctx, ag.ID, st, now)
		circuitOpenedNow = true
	}
	if !circuitOpenedNow {
		m.tickCircuit(ctx, ag, st, now)
	}
}

// onMissedHeartbeat advances the degraded/unhealthy/recovering/failed
// chain and returns the fresh consecutive-failure count.
func (m *Monitor) onMissedHeartbeat(ctx context.Context, ag *agent.Agent, st *agentState, now time.Time) int {
	failures := ag.Health.ConsecutiveFailures + 1
	m.persistHealth(ctx, ag.ID, func(h *agent.Health) { h.ConsecutiveFailures = failures })

	switch st.status {
	case StatusHealthy, StatusDegraded:
		if failures >= m.config.MaxFailures {
			m.transition(ctx, ag.ID, st, StatusUnhealthy)
			m.publish(ctx, bus.EventRecoveryRequested, map[string]interface{}{"agentId": ag.ID})
			m.transition(ctx, ag.ID, st, StatusRecovering)
			st.recoveringSince = now
		} else {
			m.transition(ctx, ag.ID, st, StatusDegraded)
		}
	case StatusUnhealthy:
		m.transition(ctx, ag.ID, st, StatusRecovering)
		st.recoveringSince = now
	case StatusRecovering:
		if now.Sub(st.recoveringSince) >= m.config.RecoveryTimeout {
			m.transition(ctx, ag.ID, st, StatusFailed)
		}
	case StatusFailed:
		// stays failed; only the circuit breaker's half-open→closed
		// path can pull it back to recovering.
	}
	return failures
}

func (m *Monitor) onHeartbeatReceived(ctx context.Context, ag *agent.Agent, st *agentState) {
	if ag.Health.ConsecutiveFailures != 0 {
		m.persistHealth(ctx, ag.ID, func(h *agent.Health) { h.ConsecutiveFailures = 0 })
	}

	switch st.status {
	case StatusHealthy, StatusFailed:
		// StatusFailed is only cleared via the circuit breaker's
		// half-open probe, handled in tickCircuit.
	default:
		m.transition(ctx, ag.ID, st, StatusHealthy)
	}
}

func (m *Monitor) tickCircuit(ctx context.Context, ag *agent.Agent, st *agentState, now time.Time) {
	switch st.circuit {
	case CircuitOpen:
		if now.Sub(ag.Health.CircuitBreakerTrippedAt) >= m.config.CircuitBreakerTimeout {
			st.circuit = CircuitHalfOpen
		}
	case CircuitHalfOpen:
		if now.Sub(ag.Health.LastHeartbeat) <= m.config.HealthTimeout {
			m.closeCircuit(ctx, ag.ID, st)
			m.transition(ctx, ag.ID, st, StatusRecovering)
			st.recoveringSince = now
		}
	case CircuitClosed:
		// nothing to do; opening is decided in evaluate before this
		// call is reached.
	}
}

func (m *Monitor) openCircuit(ctx context.Context, agentID string, st *agentState, now time.Time) {
	st.circuit = CircuitOpen
	st.circuitOpenedAt = now
	m.persistHealth(ctx, agentID, func(h *agent.Health) {
		h.CircuitBreakerTripped = true
		h.CircuitBreakerTrippedAt = now
	})
	m.publish(ctx, bus.EventCircuitBreakerTripped, map[string]interface{}{"agentId": agentID})
}

func (m *Monitor) closeCircuit(ctx context.Context, agentID string, st *agentState) {
	st.circuit = CircuitClosed
	m.persistHealth(ctx, agentID, func(h *agent.Health) {
		h.CircuitBreakerTripped = false
	})
	m.publish(ctx, bus.EventCircuitBreakerReset, map[string]interface{}{"agentId": agentID})
}

func (m *Monitor) transition(ctx context.Context, agentID string, st *agentState, next Status) {
	if st.status == next {
		return
	}
	previous := st.status
	st.status = next
	m.publish(ctx, bus.EventHealthStatusChanged, map[string]interface{}{
		"agentId":  agentID,
		"previous": string(previous),
		"current":  string(next),
	})
}

func (m *Monitor) persistHealth(ctx context.Context, agentID string, mutate func(*agent.Health)) {
	if _, err := m.agents.UpdateHealth(ctx, agentID, mutate); err != nil {
		m.logger.WithError(err).WithField("agent_id", agentID).Warn("Failed to persist health update")
	}
}

func (m *Monitor) publish(ctx context.Context, eventType bus.EventType, data map[string]interface{}) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, bus.ChannelHealth, eventType, data); err != nil {
		m.logger.WithError(err).Warn("Failed to publish health event")
	}
}

// Status returns the monitor's current computed health status for an
// agent, and whether it has been observed by at least one tick.
func (m *Monitor) Status(agentID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[agentID]
	if !ok {
		return "", false
	}
	return st.status, true
}
