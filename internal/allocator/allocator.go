package allocator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/ferrors"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/store"
)

const poolKeyPrefix = "fleet:pools:"

// activeTasksKey is the coordination store counter tracking how many
// allocations are currently StatusAllocated, kept in lockstep with
// Allocate/Release/ReapExpired.
const activeTasksKey = "fleet:tasks:active"

func poolKey(t agent.Type) string { return poolKeyPrefix + string(t) }

// AgentSource is the subset of the Registry the allocator depends on.
// Kept as an interface so strategy logic can be tested against a
// fake without a live store.
type AgentSource interface {
	Get(ctx context.Context, id string) (*agent.Agent, bool, error)
	ListByType(ctx context.Context, t agent.Type) ([]*agent.Agent, error)
	Update(ctx context.Context, id string, patch registry.Patch) (*agent.Agent, error)
}

// Publisher is the subset of Bus used to emit allocation events.
type Publisher interface {
	Publish(ctx context.Context, channel string, eventType bus.EventType, data map[string]interface{}) error
}

// Allocator owns typed pools and active allocations (spec component
// C). It is the writer of record for both; the Registry remains the
// writer of record for agent state itself.
type Allocator struct {
	mu          sync.RWMutex
	pools       map[agent.Type]*Pool
	allocations map[string]*Allocation

	agents    AgentSource
	client    store.Client
	publisher Publisher
	logger    *log.Logger

	allocationTimeout time.Duration
}

// New constructs an Allocator. allocationTimeout<=0 uses
// DefaultAllocationTimeout.
func New(agents AgentSource, client store.Client, publisher Publisher, allocationTimeout time.Duration, logger *log.Logger) *Allocator {
	if allocationTimeout <= 0 {
		allocationTimeout = DefaultAllocationTimeout
	}
	if logger == nil {
		logger = log.New()
	}
	return &Allocator{
		pools:             make(map[agent.Type]*Pool),
		allocations:       make(map[string]*Allocation),
		agents:            agents,
		client:            client,
		publisher:         publisher,
		logger:            logger,
		allocationTimeout: allocationTimeout,
	}
}

func (a *Allocator) publish(ctx context.Context, eventType bus.EventType, data map[string]interface{}) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, bus.ChannelAllocation, eventType, data); err != nil {
		a.logger.WithError(err).Warn("Failed to publish allocation event")
	}
}

// CreatePool registers a new typed pool and persists its
// configuration to the store.
func (a *Allocator) CreatePool(ctx context.Context, cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.pools[cfg.Type]; exists {
		return fmt.Errorf("create pool %s: %w", cfg.Type, ErrPoolExists)
	}

	p := newPool(cfg)
	a.pools[cfg.Type] = p

	encoded, err := store.Encode(cfg)
	if err != nil {
		return fmt.Errorf("create pool %s: %w", cfg.Type, err)
	}
	if err := a.client.SetWithTTL(ctx, poolKey(cfg.Type), encoded, 0); err != nil {
		return fmt.Errorf("create pool %s: %w", cfg.Type, err)
	}
	return nil
}

// Pool returns the pool for t, or (nil, false) if unknown.
func (a *Allocator) Pool(t agent.Type) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[t]
	return p, ok
}

// MemberIDs returns a snapshot of the agent ids currently in pool t's
// membership set.
func (a *Allocator) MemberIDs(t agent.Type) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[t]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(p.Members))
	for id := range p.Members {
		ids = append(ids, id)
	}
	return ids
}

// CurrentAgents returns pool t's current membership count under the
// allocator's lock, or 0 if t is unknown.
func (a *Allocator) CurrentAgents(t agent.Type) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[t]
	if !ok {
		return 0
	}
	return p.CurrentAgents()
}

// PoolSnapshot is a read-only copy of one pool's bounds and metrics,
// safe to hand to callers outside the allocator's lock.
type PoolSnapshot struct {
	Type              agent.Type
	MinAgents         int
	MaxAgents         int
	CurrentAgents     int
	ActiveAllocations int
	TotalAllocations  int64
	Utilization       float64
}

// Snapshot returns a point-in-time copy of every pool's bounds and
// metrics, used by the reactive and predictive autoscaling loops.
func (a *Allocator) Snapshot() []PoolSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]PoolSnapshot, 0, len(a.pools))
	for t, p := range a.pools {
		out = append(out, PoolSnapshot{
			Type:              t,
			MinAgents:         p.Config.MinAgents,
			MaxAgents:         p.Config.MaxAgents,
			CurrentAgents:     p.CurrentAgents(),
			ActiveAllocations: p.Metrics.ActiveAllocations,
			TotalAllocations:  p.Metrics.TotalAllocations,
			Utilization:       p.Utilization(),
		})
	}
	return out
}

// ClampScaleTarget returns target clamped to pool t's [min,max]
// bounds. It does not change the pool's membership: the Fleet
// Coordinator does the actual spawn/terminate calls. Returns
// ErrPoolNotFound for an unknown pool type.
func (a *Allocator) ClampScaleTarget(t agent.Type, target int) (int, error) {
	a.mu.RLock()
	p, ok := a.pools[t]
	a.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("clamp scale target %s: %w", t, ErrPoolNotFound)
	}
	if target < p.Config.MinAgents {
		target = p.Config.MinAgents
	}
	if target > p.Config.MaxAgents {
		target = p.Config.MaxAgents
	}
	return target, nil
}

// AddAgentToPool registers agentID's membership in t's pool, enforcing
// currentAgents <= maxAgents.
func (a *Allocator) AddAgentToPool(ctx context.Context, t agent.Type, agentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[t]
	if !ok {
		return fmt.Errorf("add agent to pool %s: %w", t, ErrPoolNotFound)
	}
	if len(p.Members) >= p.Config.MaxAgents {
		return fmt.Errorf("add agent to pool %s: %w", t, ErrPoolAtCapacity)
	}
	p.Members[agentID] = struct{}{}
	return nil
}

// RemoveAgentFromPool drops agentID's membership, rejecting if the
// agent currently holds an active allocation.
func (a *Allocator) RemoveAgentFromPool(ctx context.Context, t agent.Type, agentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pools[t]
	if !ok {
		return fmt.Errorf("remove agent from pool %s: %w", t, ErrPoolNotFound)
	}
	for _, alloc := range a.allocations {
		if alloc.AgentID == agentID && alloc.Status == StatusAllocated {
			return fmt.Errorf("remove agent from pool %s: %w", t, ErrAgentHasActiveAllocation)
		}
	}
	delete(p.Members, agentID)
	return nil
}

// Allocate selects an agent for req and records an Allocation. Returns
// a *ferrors-classified error with KindNoSuitableAgent when the
// candidate set is empty.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Allocation, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = DefaultStrategy
	}

	candidates, pool, err := a.candidateSet(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, noSuitableAgentErr(req)
	}

	var chosen *agent.Agent
	switch strategy {
	case StrategyPriorityBased:
		chosen = selectPriorityBased(candidates)
	case StrategyRoundRobin:
		chosen = selectRoundRobin(candidates, pool)
	case StrategyLeastLoaded:
		chosen = a.selectLeastLoaded(candidates)
	case StrategyCapabilityMatch:
		chosen = selectCapabilityMatch(candidates, req.Capabilities)
	case StrategyPerformanceBased:
		chosen = selectPerformanceBased(candidates)
	default:
		chosen = selectPriorityBased(candidates)
	}
	if chosen == nil {
		return nil, noSuitableAgentErr(req)
	}

	now := time.Now().UTC()
	alloc := &Allocation{
		ID:          uuid.New().String(),
		AgentID:     chosen.ID,
		PoolType:    chosen.Type,
		TaskID:      req.TaskID,
		Strategy:    strategy,
		AllocatedAt: now,
		TimeoutAt:   now.Add(a.allocationTimeout),
		Status:      StatusAllocated,
	}

	busy := agent.StatusBusy
	if _, err := a.agents.Update(ctx, chosen.ID, registry.Patch{Status: &busy}); err != nil {
		return nil, fmt.Errorf("allocate: mark agent busy: %w", err)
	}

	if err := a.persistAllocation(ctx, alloc); err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	a.mu.Lock()
	a.allocations[alloc.ID] = alloc
	if chosenPool, ok := a.pools[chosen.Type]; ok {
		chosenPool.Metrics.TotalAllocations++
		chosenPool.Metrics.ActiveAllocations++
		chosenPool.Metrics.LastAllocationAt = now
	}
	a.mu.Unlock()

	if _, err := a.client.Incr(ctx, activeTasksKey); err != nil {
		a.logger.WithError(err).Warn("Failed to increment active task counter")
	}

	a.publish(ctx, bus.EventAllocationCreated, map[string]interface{}{
		"allocationId": alloc.ID,
		"agentId":      alloc.AgentID,
		"taskId":       alloc.TaskID,
		"strategy":     string(strategy),
	})

	return alloc, nil
}

func (a *Allocator) persistAllocation(ctx context.Context, alloc *Allocation) error {
	encoded, err := store.Encode(alloc)
	if err != nil {
		return err
	}
	return a.client.SetWithTTL(ctx, "fleet:allocations:"+alloc.ID, encoded, a.allocationTimeout)
}

func noSuitableAgentErr(req Request) error {
	return ferrors.New(fmt.Sprintf("allocate task %s", req.TaskID), ferrors.KindNoSuitableAgent)
}

// candidateSet gathers agents of req.PoolType (or every pool if
// unset), filtered to idle, not circuit-broken, capability-superset,
// resource-fitting candidates.
func (a *Allocator) candidateSet(ctx context.Context, req Request) ([]*agent.Agent, *Pool, error) {
	var types []agent.Type
	if req.PoolType != "" {
		types = []agent.Type{req.PoolType}
	} else {
		a.mu.RLock()
		for t := range a.pools {
			types = append(types, t)
		}
		a.mu.RUnlock()
	}

	var candidates []*agent.Agent
	var firstPool *Pool
	for _, t := range types {
		pool, ok := a.Pool(t)
		if !ok {
			continue
		}
		if firstPool == nil {
			firstPool = pool
		}
		agents, err := a.agents.ListByType(ctx, t)
		if err != nil {
			return nil, nil, fmt.Errorf("candidate set: %w", err)
		}
		for _, ag := range agents {
			if !fits(ag, req, pool) {
				continue
			}
			candidates = append(candidates, ag)
		}
	}
	return candidates, firstPool, nil
}

func fits(ag *agent.Agent, req Request, pool *Pool) bool {
	if ag.Status != agent.StatusIdle {
		return false
	}
	if ag.Health.CircuitBreakerTripped {
		return false
	}
	if !ag.HasCapabilities(req.Capabilities) {
		return false
	}
	if req.Resources.CPU > 0 && req.Resources.CPU > pool.Config.ResourceLimits.CPU {
		return false
	}
	if req.Resources.Memory > 0 && req.Resources.Memory > pool.Config.ResourceLimits.Memory {
		return false
	}
	return true
}

// selectPriorityBased: highest priority; tie -> highest successRate;
// tie -> lowest averageTaskTime.
func selectPriorityBased(candidates []*agent.Agent) *agent.Agent {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority {
			best = c
			continue
		}
		if c.Priority < best.Priority {
			continue
		}
		if c.Performance.SuccessRate > best.Performance.SuccessRate {
			best = c
			continue
		}
		if c.Performance.SuccessRate < best.Performance.SuccessRate {
			continue
		}
		if c.Performance.AverageTaskTime < best.Performance.AverageTaskTime {
			best = c
		}
	}
	return best
}

// selectRoundRobin advances the owning pool's counter over the
// (stably ordered) candidate slice.
func selectRoundRobin(candidates []*agent.Agent, pool *Pool) *agent.Agent {
	sorted := append([]*agent.Agent(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if pool == nil {
		return sorted[0]
	}
	idx := pool.roundRobinPos % len(sorted)
	pool.roundRobinPos++
	return sorted[idx]
}

// selectLeastLoaded picks the pool with the lowest
// activeAllocations/currentAgents among the candidates' pools, then
// any idle candidate within it.
func (a *Allocator) selectLeastLoaded(candidates []*agent.Agent) *agent.Agent {
	byType := make(map[agent.Type][]*agent.Agent)
	for _, c := range candidates {
		byType[c.Type] = append(byType[c.Type], c)
	}

	var bestType agent.Type
	bestUtil := -1.0
	first := true
	for t := range byType {
		pool, ok := a.Pool(t)
		util := 0.0
		if ok {
			util = pool.Utilization()
		}
		if first || util < bestUtil {
			bestUtil = util
			bestType = t
			first = false
		}
	}
	return byType[bestType][0]
}

// selectCapabilityMatch maximizes |required ∩ capabilities|/|required|;
// ties broken by priority_based.
func selectCapabilityMatch(candidates []*agent.Agent, required []string) *agent.Agent {
	if len(required) == 0 {
		return selectPriorityBased(candidates)
	}

	bestScore := -1.0
	var tied []*agent.Agent
	for _, c := range candidates {
		score := float64(c.CapabilityOverlap(required)) / float64(len(required))
		if score > bestScore {
			bestScore = score
			tied = []*agent.Agent{c}
		} else if score == bestScore {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return selectPriorityBased(tied)
}

// selectPerformanceBased picks the highest PerformanceScore.
func selectPerformanceBased(candidates []*agent.Agent) *agent.Agent {
	best := candidates[0]
	bestScore := best.PerformanceScore()
	for _, c := range candidates[1:] {
		score := c.PerformanceScore()
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// Release records a task outcome, updates pool counters, applies an
// incremental performance update, and transitions the agent back to
// idle.
func (a *Allocator) Release(ctx context.Context, allocationID string, result Result) error {
	a.mu.Lock()
	alloc, ok := a.allocations[allocationID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("release %s: %w", allocationID, ErrAllocationNotFound)
	}
	if alloc.Status != StatusAllocated {
		a.mu.Unlock()
		return nil // already released/timed out: no-op, exactly-one release
	}
	alloc.Status = StatusReleased
	if pool, ok := a.pools[alloc.PoolType]; ok {
		if pool.Metrics.ActiveAllocations > 0 {
			pool.Metrics.ActiveAllocations--
		}
	}
	a.mu.Unlock()

	ag, found, err := a.agents.Get(ctx, alloc.AgentID)
	if err != nil {
		return fmt.Errorf("release %s: %w", allocationID, err)
	}

	idle := agent.StatusIdle
	patch := registry.Patch{Status: &idle}
	if found {
		perf := updatedPerformance(ag.Performance, result)
		patch.Performance = &perf
	}
	if _, err := a.agents.Update(ctx, alloc.AgentID, patch); err != nil {
		return fmt.Errorf("release %s: %w", allocationID, err)
	}

	if err := a.client.Delete(ctx, "fleet:allocations:"+allocationID); err != nil {
		a.logger.WithError(err).Warn("Failed to delete released allocation record")
	}
	if _, err := a.client.Decr(ctx, activeTasksKey); err != nil {
		a.logger.WithError(err).Warn("Failed to decrement active task counter")
	}

	a.publish(ctx, bus.EventAllocationReleased, map[string]interface{}{
		"allocationId": allocationID,
		"agentId":      alloc.AgentID,
		"success":      result.Success,
	})
	return nil
}

// updatedPerformance applies the EWMA success-rate update and
// incremental mean duration, with a multiplicative 0.8 penalty on
// watchdog-triggered failures.
func updatedPerformance(prev agent.Performance, result Result) agent.Performance {
	const ewmaAlpha = 0.2

	next := prev
	observed := 0.0
	if result.Success {
		observed = 1.0
	}
	next.SuccessRate = ewmaAlpha*observed + (1-ewmaAlpha)*prev.SuccessRate
	if result.WatchdogFired {
		next.SuccessRate *= 0.8
	}

	next.TasksCompleted = prev.TasksCompleted + 1
	if prev.TasksCompleted == 0 {
		next.AverageTaskTime = result.DurationMs
	} else {
		n := float64(prev.TasksCompleted)
		next.AverageTaskTime = (prev.AverageTaskTime*n + result.DurationMs) / (n + 1)
	}
	return next
}

// ReapExpired marks every allocation past its TimeoutAt as timed out,
// releases its agent, and returns the reaped allocations so the Fleet
// Coordinator can fail their owning tasks with allocation_timeout.
func (a *Allocator) ReapExpired(ctx context.Context) ([]*Allocation, error) {
	now := time.Now().UTC()

	a.mu.Lock()
	var expired []*Allocation
	for _, alloc := range a.allocations {
		if alloc.Status == StatusAllocated && now.After(alloc.TimeoutAt) {
			alloc.Status = StatusTimeout
			expired = append(expired, alloc)
			if pool, ok := a.pools[alloc.PoolType]; ok && pool.Metrics.ActiveAllocations > 0 {
				pool.Metrics.ActiveAllocations--
			}
		}
	}
	a.mu.Unlock()

	for _, alloc := range expired {
		idle := agent.StatusIdle
		if _, err := a.agents.Update(ctx, alloc.AgentID, registry.Patch{Status: &idle}); err != nil {
			a.logger.WithError(err).WithField("allocation_id", alloc.ID).Warn("Failed to release agent for reaped allocation")
		}
		if err := a.client.Delete(ctx, "fleet:allocations:"+alloc.ID); err != nil {
			a.logger.WithError(err).Warn("Failed to delete reaped allocation record")
		}
		if _, err := a.client.Decr(ctx, activeTasksKey); err != nil {
			a.logger.WithError(err).Warn("Failed to decrement active task counter")
		}
		a.publish(ctx, bus.EventAllocationTimeout, map[string]interface{}{
			"allocationId": alloc.ID,
			"agentId":      alloc.AgentID,
			"taskId":       alloc.TaskID,
		})
	}
	return expired, nil
}
