package fleet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
)

func TestManualScaleUpSpawnsAgents(t *testing.T) {
	c, _, alloc, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeTester, MinAgents: 0, MaxAgents: 5,
	}))

	require.NoError(t, c.ManualScaleUp(ctx, agent.TypeTester, 3, "load_test"))
	assert.Equal(t, 3, alloc.CurrentAgents(agent.TypeTester))
}

func TestManualScaleUpClampsToMax(t *testing.T) {
	c, _, alloc, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeTester, MinAgents: 0, MaxAgents: 2,
	}))

	require.NoError(t, c.ManualScaleUp(ctx, agent.TypeTester, 10, "load_test"))
	assert.Equal(t, 2, alloc.CurrentAgents(agent.TypeTester))
}

func TestManualScaleDownTerminatesIdleAgentsOnly(t *testing.T) {
	c, reg, alloc, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeTester, MinAgents: 0, MaxAgents: 5,
	}))
	require.NoError(t, c.ManualScaleUp(ctx, agent.TypeTester, 3, "setup"))

	allocated, err := alloc.Allocate(ctx, allocator.Request{TaskID: "t1", PoolType: agent.TypeTester})
	require.NoError(t, err)
	busyID := allocated.AgentID

	require.NoError(t, c.ManualScaleDown(ctx, agent.TypeTester, 3, "cost_optimization"))

	ag, found, err := reg.Get(ctx, busyID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, agent.StatusBusy, ag.Status)
	assert.Equal(t, 1, alloc.CurrentAgents(agent.TypeTester))
}

func TestScalePoolToUnknownPoolIsNoop(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.ScalePool(ctx, agent.TypeNetwork, 5))
}

