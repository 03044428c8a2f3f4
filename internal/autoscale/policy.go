package autoscale

import (
	"context"
	"math"
	"time"
)

func (c *Controller) policyLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PolicyEvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.policyTick(c.ctx)
		}
	}
}

// policyTick evaluates every policy against the sample window.
// Conflicts (some policy wants up, another wants down) are resolved
// in favor of up.
func (c *Controller) policyTick(ctx context.Context) {
	c.mu.Lock()
	samples := make([]MetricSample, len(c.samples))
	copy(samples, c.samples)
	c.mu.Unlock()

	if len(samples) == 0 {
		return
	}

	triggerUp, triggerDown := false, false
	var upFactors, downFactors []float64

	for _, p := range c.cfg.Policies {
		if sustainedAbove(samples, p.Metric, p.UpThreshold) >= p.UpSustained {
			triggerUp = true
			upFactors = append(upFactors, samples[len(samples)-1].metric(p.Metric)/p.UpThreshold)
		}
		if sustainedBelow(samples, p.Metric, p.DownThreshold) >= p.DownSustained {
			triggerDown = true
			downFactors = append(downFactors, samples[len(samples)-1].metric(p.Metric)/p.DownThreshold)
		}
	}

	switch {
	case triggerUp:
		factor := maxFloat(upFactors)
		current := c.pools.CurrentAgents(c.cfg.PoolType)
		target := c.clampScaleStep(current, scaleAmount(current, factor), "up")
		if err := c.applyScale(ctx, target, "policy_threshold", "up"); err != nil {
			c.logger.WithError(err).Warn("Policy-driven scale-up failed")
		}
	case triggerDown:
		factor := minFloat(downFactors)
		current := c.pools.CurrentAgents(c.cfg.PoolType)
		target := c.clampScaleStep(current, scaleAmount(current, factor), "down")
		if target < current {
			if err := c.applyScale(ctx, target, "policy_threshold", "down"); err != nil {
				c.logger.WithError(err).Warn("Policy-driven scale-down failed")
			}
		}
	}
}

// sustainedAbove returns how long the metric has stayed continuously
// above threshold, measured backward from the most recent sample. A
// most-recent sample at or below threshold returns 0.
func sustainedAbove(samples []MetricSample, metric string, threshold float64) time.Duration {
	return sustainedRun(samples, metric, threshold, true)
}

// sustainedBelow is sustainedAbove's mirror for the down-threshold.
func sustainedBelow(samples []MetricSample, metric string, threshold float64) time.Duration {
	return sustainedRun(samples, metric, threshold, false)
}

func sustainedRun(samples []MetricSample, metric string, threshold float64, above bool) time.Duration {
	n := len(samples)
	if n == 0 {
		return 0
	}
	last := samples[n-1]
	holds := func(v float64) bool {
		if above {
			return v > threshold
		}
		return v < threshold
	}
	if !holds(last.metric(metric)) {
		return 0
	}
	start := n - 1
	for start > 0 && holds(samples[start-1].metric(metric)) {
		start--
	}
	return last.Timestamp.Sub(samples[start].Timestamp)
}

func maxFloat(vs []float64) float64 {
	if len(vs) == 0 {
		return 1
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// minFloat picks the lowest down-factor across triggering policies —
// the metric furthest below its down-threshold drives the deepest cut.
func minFloat(vs []float64) float64 {
	if len(vs) == 0 {
		return 1
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// scaleAmount applies the composite reactive formula: target ·
// factor, rounded up. factor is the overshoot ratio (metric/threshold)
// of the triggering metric furthest past its threshold — >1 for a
// scale-up, <1 for a scale-down.
func scaleAmount(current int, factor float64) int {
	return int(math.Ceil(float64(current) * factor))
}

// clampScaleStep bounds the requested target by the per-step and
// per-minute rate limits before the allocator's [min,max] clamp is
// applied in applyScale.
func (c *Controller) clampScaleStep(current, target int, direction string) int {
	delta := target - current
	if direction == "up" {
		if delta > c.cfg.MaxScaleUpStep {
			delta = c.cfg.MaxScaleUpStep
		}
		if delta > c.cfg.MaxScaleUpRatePerMin {
			delta = c.cfg.MaxScaleUpRatePerMin
		}
		if delta < 0 {
			delta = 0
		}
	} else {
		if delta > 0 {
			delta = 0
		}
		if -delta > c.cfg.MaxScaleDownStep {
			delta = -c.cfg.MaxScaleDownStep
		}
		if -delta > c.cfg.MaxScaleDownRatePerMin {
			delta = -c.cfg.MaxScaleDownRatePerMin
		}
	}
	return current + delta
}
