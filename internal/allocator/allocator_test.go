package allocator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/store"
)

func newTestAllocator(t *testing.T) (*allocator.Allocator, *registry.Repository) {
	t.Helper()
	client := store.NewMemoryClient()
	repo := registry.New(client, nil, nil)
	return allocator.New(repo, client, nil, 0, nil), repo
}

func mustRegister(t *testing.T, repo *registry.Repository, cfg agent.Config) string {
	t.Helper()
	id, err := repo.Register(context.Background(), cfg)
	require.NoError(t, err)
	return id
}

func TestAllocatePriorityBased(t *testing.T) {
	alloc, repo := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 1, MaxAgents: 10,
		ResourceLimits: agent.Resources{CPU: 2, Memory: 2048},
	}))

	lowID := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder, Priority: 3})
	highID := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder, Priority: 9})
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, lowID))
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, highID))

	got, err := alloc.Allocate(ctx, allocator.Request{TaskID: "t1", PoolType: agent.TypeCoder})
	require.NoError(t, err)
	assert.Equal(t, highID, got.AgentID)

	busyAgent, _, err := repo.Get(ctx, highID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusBusy, busyAgent.Status)
}

func TestAllocateNoSuitableAgent(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 10,
	}))

	_, err := alloc.Allocate(ctx, allocator.Request{TaskID: "t1", PoolType: agent.TypeCoder})
	assert.Error(t, err)
}

func TestAllocateCapabilityMatch(t *testing.T) {
	alloc, repo := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 10,
		ResourceLimits: agent.Resources{CPU: 2, Memory: 2048},
	}))

	partialID := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder, Capabilities: []string{"go"}})
	fullID := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder, Capabilities: []string{"go", "docker"}})
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, partialID))
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, fullID))

	got, err := alloc.Allocate(ctx, allocator.Request{
		TaskID: "t1", PoolType: agent.TypeCoder,
		Capabilities: []string{"go", "docker"},
		Strategy:     allocator.StrategyCapabilityMatch,
	})
	require.NoError(t, err)
	assert.Equal(t, fullID, got.AgentID)
}

func TestReleaseUpdatesPerformanceAndFreesAgent(t *testing.T) {
	alloc, repo := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 10,
		ResourceLimits: agent.Resources{CPU: 2, Memory: 2048},
	}))

	id := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, id))

	got, err := alloc.Allocate(ctx, allocator.Request{TaskID: "t1", PoolType: agent.TypeCoder})
	require.NoError(t, err)

	require.NoError(t, alloc.Release(ctx, got.ID, allocator.Result{Success: true, DurationMs: 1200}))

	after, _, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusIdle, after.Status)
	assert.Equal(t, int64(1), after.Performance.TasksCompleted)
	assert.Equal(t, 1200.0, after.Performance.AverageTaskTime)
}

func TestReleaseIsIdempotent(t *testing.T) {
	alloc, repo := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 10,
	}))
	id := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, id))

	got, err := alloc.Allocate(ctx, allocator.Request{TaskID: "t1", PoolType: agent.TypeCoder})
	require.NoError(t, err)

	require.NoError(t, alloc.Release(ctx, got.ID, allocator.Result{Success: true}))
	require.NoError(t, alloc.Release(ctx, got.ID, allocator.Result{Success: true}))
}

func TestRemoveAgentFromPoolRejectsWhenBusy(t *testing.T) {
	alloc, repo := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 10,
	}))
	id := mustRegister(t, repo, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, alloc.AddAgentToPool(ctx, agent.TypeCoder, id))

	_, err := alloc.Allocate(ctx, allocator.Request{TaskID: "t1", PoolType: agent.TypeCoder})
	require.NoError(t, err)

	err = alloc.RemoveAgentFromPool(ctx, agent.TypeCoder, id)
	assert.ErrorIs(t, err, allocator.ErrAgentHasActiveAllocation)
}
