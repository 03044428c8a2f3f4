package health_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/health"
)

var errAgentNotTracked = errors.New("health_test: agent not tracked")

type fakeAgentSource struct {
	mu     sync.Mutex
	agents map[string]*agent.Agent
}

func newFakeAgentSource(agents ...*agent.Agent) *fakeAgentSource {
	m := make(map[string]*agent.Agent, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return &fakeAgentSource{agents: m}
}

func (f *fakeAgentSource) ListAll(ctx context.Context) ([]*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*agent.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAgentSource) UpdateHealth(ctx context.Context, id string, mutate func(*agent.Health)) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, errAgentNotTracked
	}
	mutate(&a.Health)
	return a, nil
}

func (f *fakeAgentSource) setLastHeartbeat(id string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[id].Health.LastHeartbeat = ts
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.EventType
	data   []map[string]interface{}
}

func (r *recordingPublisher) Publish(ctx context.Context, channel string, eventType bus.EventType, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
	return nil
}

func (r *recordingPublisher) has(eventType bus.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func testConfig() health.Config {
	return health.Config{
		HeartbeatInterval:       time.Second,
		HealthTimeout:           2 * time.Second,
		MaxFailures:             3,
		RecoveryTimeout:         5 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   3 * time.Second,
	}
}

func TestMonitorDegradesThenUnhealthyThenRecovering(t *testing.T) {
	a := agent.New(agent.Config{Type: agent.TypeCoder})
	src := newFakeAgentSource(a)
	pub := &recordingPublisher{}
	m := health.NewMonitor(testConfig(), src, pub, nil)
	ctx := context.Background()

	src.setLastHeartbeat(a.ID, time.Now().Add(-3*time.Second))
	require.NoError(t, m.Tick(ctx))
	status, ok := m.Status(a.ID)
	require.True(t, ok)
	assert.Equal(t, health.StatusDegraded, status)

	src.setLastHeartbeat(a.ID, time.Now().Add(-3*time.Second))
	require.NoError(t, m.Tick(ctx))
	status, _ = m.Status(a.ID)
	assert.Equal(t, health.StatusDegraded, status)

	src.setLastHeartbeat(a.ID, time.Now().Add(-3*time.Second))
	require.NoError(t, m.Tick(ctx))
	status, _ = m.Status(a.ID)
	assert.Equal(t, health.StatusRecovering, status)
	assert.True(t, pub.has(bus.EventRecoveryRequested))
}

func TestMonitorRecoversOnHeartbeat(t *testing.T) {
	a := agent.New(agent.Config{Type: agent.TypeCoder})
	src := newFakeAgentSource(a)
	pub := &recordingPublisher{}
	m := health.NewMonitor(testConfig(), src, pub, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		src.setLastHeartbeat(a.ID, time.Now().Add(-3*time.Second))
		require.NoError(t, m.Tick(ctx))
	}
	status, _ := m.Status(a.ID)
	require.Equal(t, health.StatusRecovering, status)

	src.setLastHeartbeat(a.ID, time.Now())
	require.NoError(t, m.Tick(ctx))
	status, _ = m.Status(a.ID)
	assert.Equal(t, health.StatusHealthy, status)
}

func TestMonitorFailsAfterRecoveryTimeoutAndTripsBreaker(t *testing.T) {
	a := agent.New(agent.Config{Type: agent.TypeCoder})
	src := newFakeAgentSource(a)
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.RecoveryTimeout = 1 * time.Millisecond
	m := health.NewMonitor(cfg, src, pub, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		src.setLastHeartbeat(a.ID, time.Now().Add(-3*time.Second))
		require.NoError(t, m.Tick(ctx))
	}
	status, _ := m.Status(a.ID)
	require.Equal(t, health.StatusRecovering, status)

	time.Sleep(2 * time.Millisecond)
	src.setLastHeartbeat(a.ID, time.Now().Add(-3*time.Second))
	require.NoError(t, m.Tick(ctx))
	status, _ = m.Status(a.ID)
	assert.Equal(t, health.StatusFailed, status)
	assert.True(t, a.Health.CircuitBreakerTripped)
	assert.True(t, pub.has(bus.EventCircuitBreakerTripped))
}
