package fleet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/task"
)

func TestGetFleetStatusReportsQueuedAndPools(t *testing.T) {
	c, _, alloc, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 5,
	}))
	_, err := c.SpawnAgent(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	// No dispatcher running, so the task stays queued.
	_, err = c.SubmitTask(ctx, task.Request{PoolType: "coder"})
	require.NoError(t, err)

	status, err := c.GetFleetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-swarm", status.SwarmID)
	assert.Equal(t, 1, status.QueuedTasks)
	assert.Equal(t, 0, status.ExecutingTasks)
	require.Len(t, status.Pools, 1)
	assert.Equal(t, agent.TypeCoder, status.Pools[0].Type)
	assert.Equal(t, 1, status.Registry.Total)
}

func TestGetFleetMetricsAggregatesRegistryAndPools(t *testing.T) {
	c, _, alloc, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 5,
	}))
	_, err := c.SpawnAgent(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	metrics, err := c.GetFleetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalAgents)
	assert.Equal(t, 1.0, metrics.MeanSuccessRate)
	assert.Equal(t, 0, metrics.ActiveAllocations)
}
