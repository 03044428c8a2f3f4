package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	client := store.NewMemoryClient()
	b := bus.New(client, "swarm-1", "coordinator-1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan bus.Envelope, 1)
	require.NoError(t, b.Subscribe(ctx, bus.ChannelFleet, func(e bus.Envelope) {
		received <- e
	}))

	require.NoError(t, b.Publish(ctx, bus.ChannelFleet, bus.EventAgentSpawned, map[string]interface{}{
		"agentId": "a1",
	}))

	select {
	case env := <-received:
		assert.Equal(t, bus.EventAgentSpawned, env.Type)
		assert.Equal(t, "swarm-1", env.SwarmID)
		assert.Equal(t, "a1", env.Data["agentId"])
	case <-time.After(time.Second):
		t.Fatal("did not receive published envelope")
	}
}

func TestMatchesEventPattern(t *testing.T) {
	assert.True(t, bus.MatchesEventPattern(bus.EventTaskCompleted, "task_*"))
	assert.True(t, bus.MatchesEventPattern(bus.EventTaskFailed, "*_failed"))
	assert.False(t, bus.MatchesEventPattern(bus.EventAgentSpawned, "task_*"))
}
