package autoscale

import (
	"context"
	"math"
	"time"

	"github.com/aosanya/fleetctl/internal/bus"
)

func (c *Controller) predictiveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PredictiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.predictiveTick(c.ctx)
		}
	}
}

// predictiveTick fits a linear regression over the CPU utilization
// window and, if the load projected predictionHorizon ahead exceeds
// both the default policy's up-threshold and predictiveLoadRatio
// times the current load, issues a sized predictive scale-up.
func (c *Controller) predictiveTick(ctx context.Context) {
	c.mu.Lock()
	samples := make([]MetricSample, len(c.samples))
	copy(samples, c.samples)
	c.mu.Unlock()

	if len(samples) < 2 {
		return
	}

	slope, intercept := fitLinearRegression(samples)
	confidence := rSquared(samples, slope, intercept)
	horizonMinutes := c.cfg.PredictionHorizon.Minutes()
	lastX := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp).Minutes()
	predicted := slope*(lastX+horizonMinutes) + intercept
	current := samples[len(samples)-1].CPUUtilization

	upThreshold := defaultUpThreshold(c.cfg.Policies, MetricCPU)

	c.publish(ctx, bus.EventPredictionsUpdated, map[string]interface{}{
		"poolType":   string(c.cfg.PoolType),
		"predicted":  predicted,
		"confidence": confidence,
		"horizon":    c.cfg.PredictionHorizon.String(),
	})

	if current <= 0 || predicted <= upThreshold || predicted <= current*c.cfg.PredictiveLoadRatio {
		return
	}
	if confidence < c.cfg.ConfidenceThreshold {
		return
	}

	currentAgents := c.pools.CurrentAgents(c.cfg.PoolType)
	target := int(math.Ceil(float64(currentAgents) * predicted / upThreshold))
	target = c.clampScaleStep(currentAgents, target, "up")

	if err := c.applyScale(ctx, target, "predictive", "up"); err != nil {
		c.logger.WithError(err).Warn("Predictive scale-up failed")
	}
}

func defaultUpThreshold(policies []Policy, metric string) float64 {
	for _, p := range policies {
		if p.Metric == metric {
			return p.UpThreshold
		}
	}
	return 0.8
}

// fitLinearRegression runs ordinary least squares over samples' CPU
// utilization against their elapsed time in minutes since the first
// sample. There's no regression library in the dependency set this
// engine otherwise draws from, so this is a direct formula rather
// than a hand-rolled substitute for one.
func fitLinearRegression(samples []MetricSample) (slope, intercept float64) {
	n := float64(len(samples))
	t0 := samples[0].Timestamp

	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.Timestamp.Sub(t0).Minutes()
		y := s.CPUUtilization
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// rSquared reports the fraction of variance in CPU utilization the
// fitted line explains, used to gate predictive scale-ups on fit
// quality rather than acting on a noisy window.
func rSquared(samples []MetricSample, slope, intercept float64) float64 {
	t0 := samples[0].Timestamp
	var mean float64
	for _, s := range samples {
		mean += s.CPUUtilization
	}
	mean /= float64(len(samples))

	var ssRes, ssTot float64
	for _, s := range samples {
		x := s.Timestamp.Sub(t0).Minutes()
		fitted := slope*x + intercept
		ssRes += (s.CPUUtilization - fitted) * (s.CPUUtilization - fitted)
		ssTot += (s.CPUUtilization - mean) * (s.CPUUtilization - mean)
	}
	if ssTot == 0 {
		return 1
	}
	return 1 - ssRes/ssTot
}
