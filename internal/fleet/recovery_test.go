package fleet_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/task"
)

func TestHealthFailedEventTriggersReplacementSpawn(t *testing.T) {
	c, _, alloc, b := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 1, MaxAgents: 5,
	}))
	agentID, err := c.SpawnAgent(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	require.NoError(t, c.SubscribeHealthEvents(ctx))
	c.Start(ctx)
	defer c.Shutdown(context.Background())

	require.NoError(t, b.Publish(ctx, bus.ChannelHealth, bus.EventHealthStatusChanged, map[string]interface{}{
		"agentId": agentID,
		"current": "failed",
	}))

	waitUntil(t, time.Second, func() bool {
		ids := alloc.MemberIDs(agent.TypeCoder)
		return len(ids) == 1 && ids[0] != agentID
	})

	members := alloc.MemberIDs(agent.TypeCoder)
	require.Len(t, members, 1)
	assert.NotEqual(t, agentID, members[0])
}

func TestResultEventCompletesTask(t *testing.T) {
	c, reg, alloc, b := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, alloc.CreatePool(ctx, allocator.Config{
		Type: agent.TypeCoder, MinAgents: 0, MaxAgents: 5,
	}))
	agentID, err := c.SpawnAgent(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	require.NoError(t, c.SubscribeResultEvents(ctx))
	c.Start(ctx)
	defer c.Shutdown(context.Background())

	taskID, err := c.SubmitTask(ctx, task.Request{PoolType: "coder"})
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		ag, _, _ := reg.Get(ctx, agentID)
		return ag.Status == agent.StatusBusy
	})

	require.NoError(t, b.Publish(ctx, bus.ChannelResults, bus.EventTaskCompleted, map[string]interface{}{
		"taskId":   taskID,
		"duration": float64(100),
	}))

	waitUntil(t, time.Second, func() bool {
		ag, _, _ := reg.Get(ctx, agentID)
		return ag.Status == agent.StatusIdle
	})
}
