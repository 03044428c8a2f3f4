package fleet

import (
	"context"
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/store"
)

const snapshotKeyPrefix = "fleet:snapshot:"

// SnapshotRecord is a best-effort, point-in-time dump of the registry
// and pool table, written on coordinator shutdown. Advisory only: the
// Non-goals explicitly forbid relying on it for strong durability, but
// a cold-started coordinator may read it back for a warm restart.
type SnapshotRecord struct {
	SwarmID   string              `json:"swarmId"`
	TakenAt   time.Time           `json:"takenAt"`
	Agents    []*agent.Agent      `json:"agents"`
	PoolSizes map[string]int      `json:"poolSizes"`
}

// snapshot writes a SnapshotRecord to the store; failures are logged
// and swallowed, consistent with the advisory-only nature of this
// state.
func (c *Coordinator) snapshot(ctx context.Context) {
	agents, err := c.registry.ListAll(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to list agents for shutdown snapshot")
		return
	}

	poolSizes := make(map[string]int)
	for _, p := range c.allocator.Snapshot() {
		poolSizes[string(p.Type)] = p.CurrentAgents
	}

	rec := SnapshotRecord{
		SwarmID:   c.cfg.SwarmID,
		TakenAt:   time.Now().UTC(),
		Agents:    agents,
		PoolSizes: poolSizes,
	}

	encoded, err := store.Encode(rec)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode shutdown snapshot")
		return
	}
	if err := c.client.SetWithTTL(ctx, snapshotKeyPrefix+c.cfg.SwarmID, encoded, store.DefaultTTL); err != nil {
		c.logger.WithError(err).Warn("Failed to persist shutdown snapshot")
	}
}

// LoadSnapshot reads back the advisory snapshot for swarmID, if any.
func LoadSnapshot(ctx context.Context, client store.Client, swarmID string) (*SnapshotRecord, bool, error) {
	raw, ok, err := client.Get(ctx, snapshotKeyPrefix+swarmID)
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec SnapshotRecord
	if err := store.Decode(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}
