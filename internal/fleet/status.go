package fleet

import (
	"context"
	"time"

	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/task"
)

// FleetStatus is a point-in-time view of the coordinator's own state
// plus the pools and registry it reads through, returned by
// getFleetStatus on the programmatic API.
type FleetStatus struct {
	SwarmID        string                  `json:"swarmId"`
	StartedAt      time.Time               `json:"startedAt"`
	Uptime         time.Duration           `json:"uptime"`
	QueuedTasks    int                     `json:"queuedTasks"`
	ExecutingTasks int                     `json:"executingTasks"`
	Pools          []allocator.PoolSnapshot `json:"pools"`
	Registry       *registry.Stats         `json:"registry"`
}

// GetFleetStatus reports queue depth, per-pool bounds/utilization, and
// registry population counts.
func (c *Coordinator) GetFleetStatus(ctx context.Context) (*FleetStatus, error) {
	c.mu.Lock()
	queued, executing := 0, 0
	for _, t := range c.tasks {
		switch t.Status {
		case task.StatusQueued:
			queued++
		case task.StatusExecuting:
			executing++
		}
	}
	c.mu.Unlock()

	stats, err := c.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &FleetStatus{
		SwarmID:        c.cfg.SwarmID,
		StartedAt:      c.startedAt,
		Uptime:         time.Since(c.startedAt),
		QueuedTasks:    queued,
		ExecutingTasks: executing,
		Pools:          c.allocator.Snapshot(),
		Registry:       stats,
	}, nil
}

// FleetMetrics is the aggregate throughput/performance view returned
// by getFleetMetrics, derived from the registry's performance means
// and the pools' allocation counters rather than raw per-agent state.
type FleetMetrics struct {
	TotalAgents         int     `json:"totalAgents"`
	MeanSuccessRate     float64 `json:"meanSuccessRate"`
	MeanAverageTaskTime float64 `json:"meanAverageTaskTime"`
	TotalAllocations    int64   `json:"totalAllocations"`
	ActiveAllocations   int     `json:"activeAllocations"`
	QueuedTasks         int     `json:"queuedTasks"`
}

// GetFleetMetrics reports fleet-wide performance and throughput
// aggregates, built from the same pool snapshots and registry stats
// getFleetStatus uses, but reshaped around the numbers an autoscaler
// or dashboard would plot rather than the coordinator's internals.
func (c *Coordinator) GetFleetMetrics(ctx context.Context) (*FleetMetrics, error) {
	stats, err := c.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}

	var totalAllocations int64
	var activeAllocations int
	for _, p := range c.allocator.Snapshot() {
		totalAllocations += p.TotalAllocations
		activeAllocations += p.ActiveAllocations
	}

	c.mu.Lock()
	queued := 0
	for _, t := range c.tasks {
		if t.Status == task.StatusQueued {
			queued++
		}
	}
	c.mu.Unlock()

	return &FleetMetrics{
		TotalAgents:         stats.Total,
		MeanSuccessRate:     stats.MeanSuccessRate,
		MeanAverageTaskTime: stats.MeanAverageTaskTime,
		TotalAllocations:    totalAllocations,
		ActiveAllocations:   activeAllocations,
		QueuedTasks:         queued,
	}, nil
}
