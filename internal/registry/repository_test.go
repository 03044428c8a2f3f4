package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/store"
)

func newTestRepo() *registry.Repository {
	client := store.NewMemoryClient()
	return registry.New(client, nil, nil)
}

func TestRegisterAndGet(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	id, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder, Capabilities: []string{"go"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agent.TypeCoder, got.Type)
	assert.Equal(t, agent.StatusIdle, got.Status)
}

func TestGetUnknownReturnsFalseNotError(t *testing.T) {
	repo := newTestRepo()
	got, ok, err := repo.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestUnregisterRefusesBusyAgent(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	id, err := repo.Register(ctx, agent.Config{Type: agent.TypeTester})
	require.NoError(t, err)

	busy := agent.StatusBusy
	_, err = repo.Update(ctx, id, registry.Patch{Status: &busy})
	require.NoError(t, err)

	err = repo.Unregister(ctx, id)
	assert.ErrorIs(t, err, registry.ErrAgentHasActiveAllocation)
}

func TestUnregisterUnknownAgent(t *testing.T) {
	repo := newTestRepo()
	err := repo.Unregister(context.Background(), "ghost")
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}

func TestUpdateBumpsVersionAndIndexes(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	id, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	before, _, err := repo.Get(ctx, id)
	require.NoError(t, err)

	newStatus := agent.StatusActive
	updated, err := repo.Update(ctx, id, registry.Patch{Status: &newStatus})
	require.NoError(t, err)
	assert.Equal(t, before.Version+1, updated.Version)
	assert.Equal(t, agent.StatusActive, updated.Status)

	byNewStatus, err := repo.ListByStatus(ctx, agent.StatusActive)
	require.NoError(t, err)
	assert.Len(t, byNewStatus, 1)

	byOldStatus, err := repo.ListByStatus(ctx, agent.StatusIdle)
	require.NoError(t, err)
	assert.Len(t, byOldStatus, 0)
}

func TestUpdateTypeRefusedWhenBusy(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	id, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	busy := agent.StatusBusy
	_, err = repo.Update(ctx, id, registry.Patch{Status: &busy})
	require.NoError(t, err)

	newType := agent.TypeTester
	_, err = repo.Update(ctx, id, registry.Patch{Type: &newType})
	assert.ErrorIs(t, err, registry.ErrInvalidTypeChange)
}

func TestUpdateHeartbeatDoesNotBumpVersion(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	id, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	before, _, err := repo.Get(ctx, id)
	require.NoError(t, err)

	ts := time.Now().UTC()
	require.NoError(t, repo.UpdateHeartbeat(ctx, id, ts))

	after, _, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.WithinDuration(t, ts, after.Health.LastHeartbeat, time.Millisecond)
}

func TestListByTypeAndFindByCapabilities(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	_, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder, Capabilities: []string{"go", "python"}})
	require.NoError(t, err)
	_, err = repo.Register(ctx, agent.Config{Type: agent.TypeCoder, Capabilities: []string{"rust"}})
	require.NoError(t, err)
	_, err = repo.Register(ctx, agent.Config{Type: agent.TypeTester, Capabilities: []string{"go"}})
	require.NoError(t, err)

	coders, err := repo.ListByType(ctx, agent.TypeCoder)
	require.NoError(t, err)
	assert.Len(t, coders, 2)

	goAgents, err := repo.FindByCapabilities(ctx, []string{"go"})
	require.NoError(t, err)
	assert.Len(t, goAgents, 2)
}

func TestIdleAgentsOrderedBySuccessRateAscending(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	highID, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)
	lowID, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	highPerf := agent.Performance{SuccessRate: 0.95}
	lowPerf := agent.Performance{SuccessRate: 0.2}
	_, err = repo.Update(ctx, highID, registry.Patch{Performance: &highPerf})
	require.NoError(t, err)
	_, err = repo.Update(ctx, lowID, registry.Patch{Performance: &lowPerf})
	require.NoError(t, err)

	idle, err := repo.IdleAgents(ctx, agent.TypeCoder, 0)
	require.NoError(t, err)
	require.Len(t, idle, 2)
	assert.Equal(t, lowID, idle[0].ID)
	assert.Equal(t, highID, idle[1].ID)
}

func TestStatsAggregates(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	_, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)
	_, err = repo.Register(ctx, agent.Config{Type: agent.TypeTester})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.CountByType[agent.TypeCoder])
	assert.Equal(t, 1, stats.CountByType[agent.TypeTester])
}

func TestCleanupPurgesStaleRecords(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	id, err := repo.Register(ctx, agent.Config{Type: agent.TypeCoder})
	require.NoError(t, err)

	purged, err := repo.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, ok, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
