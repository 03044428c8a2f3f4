package fleet

import (
	"context"
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
)

// reactiveScaleLoop is the coordinator's own coarse 30s utilization-
// threshold hook. It resizes pools through scalePoolTo, the same path
// ScalePool gives the autoscaling controller. It does not defer to the
// controller: when both run, whichever resizes a pool last sets its
// size.
func (c *Coordinator) reactiveScaleLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ReactiveScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.reactiveScaleTick()
		}
	}
}

func (c *Coordinator) reactiveScaleTick() {
	for _, pool := range c.allocator.Snapshot() {
		if pool.CurrentAgents == 0 {
			continue
		}
		switch {
		case pool.Utilization > c.cfg.UtilizationHighWater:
			target := pool.CurrentAgents + c.cfg.ReactiveScaleUpFactor
			if target > pool.MaxAgents {
				target = pool.MaxAgents
			}
			if target > pool.CurrentAgents {
				c.scalePoolTo(c.ctx, pool.Type, target, "reactive_high_utilization")
			}
		case pool.Utilization < c.cfg.UtilizationLowWater:
			target := pool.CurrentAgents - c.cfg.ReactiveScaleDownFactor
			if target < pool.MinAgents {
				target = pool.MinAgents
			}
			if target < pool.CurrentAgents {
				c.scalePoolTo(c.ctx, pool.Type, target, "reactive_low_utilization")
			}
		}
	}
}

// ScalePool is the programmatic API for setting a pool's target agent
// count directly (bypassing the reactive hook's step size). Used by
// the HTTP admin surface and by the Autoscaling Controller.
func (c *Coordinator) ScalePool(ctx context.Context, poolType agent.Type, target int) error {
	return c.scalePoolTo(ctx, poolType, target, "manual")
}

// ManualScaleUp/Down add/remove a fixed delta from a pool's current
// size, per the programmatic API.
func (c *Coordinator) ManualScaleUp(ctx context.Context, poolType agent.Type, n int, reason string) error {
	if _, ok := c.allocator.Pool(poolType); !ok {
		return errPoolNotFound(poolType)
	}
	return c.scalePoolTo(ctx, poolType, c.allocator.CurrentAgents(poolType)+n, reason)
}

func (c *Coordinator) ManualScaleDown(ctx context.Context, poolType agent.Type, n int, reason string) error {
	if _, ok := c.allocator.Pool(poolType); !ok {
		return errPoolNotFound(poolType)
	}
	return c.scalePoolTo(ctx, poolType, c.allocator.CurrentAgents(poolType)-n, reason)
}

func (c *Coordinator) scalePoolTo(ctx context.Context, poolType agent.Type, target int, reason string) error {
	if _, ok := c.allocator.Pool(poolType); !ok {
		c.logger.WithField("pool_type", poolType).Warn("Scale request for unknown pool")
		return nil
	}

	clamped, err := c.allocator.ClampScaleTarget(poolType, target)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to clamp scale target")
		return nil
	}

	previous := c.allocator.CurrentAgents(poolType)
	if clamped == previous {
		return nil
	}

	c.publish(ctx, bus.EventScaleInitiated, map[string]interface{}{
		"poolType":      string(poolType),
		"previousCount": previous,
		"targetCount":   clamped,
		"reason":        reason,
	})

	if clamped > previous {
		for i := 0; i < clamped-previous; i++ {
			if _, err := c.SpawnAgent(ctx, agent.Config{Type: poolType}); err != nil {
				c.logger.WithError(err).Warn("Failed to spawn agent for scale-up")
				c.publish(ctx, bus.EventScaleFailed, map[string]interface{}{"poolType": string(poolType), "reason": err.Error()})
				return err
			}
		}
	} else {
		removed := 0
		for _, id := range c.allocator.MemberIDs(poolType) {
			if removed >= previous-clamped {
				break
			}
			ag, found, err := c.registry.Get(ctx, id)
			if err != nil || !found || ag.Status != agent.StatusIdle {
				continue
			}
			if err := c.TerminateAgent(ctx, id, reason); err != nil {
				c.logger.WithError(err).Warn("Failed to terminate agent for scale-down")
				continue
			}
			removed++
		}
	}

	newSize := c.allocator.CurrentAgents(poolType)
	c.publish(ctx, bus.EventPoolScaled, map[string]interface{}{
		"poolType":     string(poolType),
		"previousSize": previous,
		"newSize":      newSize,
	})
	c.publish(ctx, bus.EventScaleCompleted, map[string]interface{}{
		"poolType": string(poolType),
		"newSize":  newSize,
	})
	return nil
}

func errPoolNotFound(poolType agent.Type) error {
	return &poolNotFoundError{poolType: poolType}
}

type poolNotFoundError struct {
	poolType agent.Type
}

func (e *poolNotFoundError) Error() string {
	return "fleet: pool not found: " + string(e.poolType)
}
