package autoscale

import (
	"context"
	"math"
	"time"
)

func (c *Controller) costSweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CostSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.costSweepTick(c.ctx)
		}
	}
}

// costSweepTick scales a pool whose most recent CPU sample is below
// CostSweepUtilizationLowWater down toward its minimum, subject to the
// same cooldowns and rate limits as every other scale-down. Earlier
// samples in the window are not consulted.
func (c *Controller) costSweepTick(ctx context.Context) {
	c.mu.Lock()
	samples := make([]MetricSample, len(c.samples))
	copy(samples, c.samples)
	c.mu.Unlock()

	if len(samples) == 0 {
		return
	}
	utilization := samples[len(samples)-1].CPUUtilization
	if utilization >= c.cfg.CostSweepUtilizationLowWater {
		return
	}

	current := c.pools.CurrentAgents(c.cfg.PoolType)
	target := int(math.Ceil(float64(current) * utilization))
	target = c.clampScaleStep(current, target, "down")
	if target >= current {
		return
	}

	if err := c.applyScale(ctx, target, "cost_optimization", "down"); err != nil {
		c.logger.WithError(err).Warn("Cost-optimization scale-down failed")
	}
}
