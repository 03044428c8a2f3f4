package autoscale

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictiveTickScalesUpOnConfidentRisingTrend(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 50}
	c, _ := newTestController(t, scaler, pools)
	c.cfg.PredictionHorizon = 15 * time.Minute

	now := time.Now()
	c.samples = []MetricSample{
		{CPUUtilization: 0.5, Timestamp: now.Add(-10 * time.Minute)},
		{CPUUtilization: 0.6, Timestamp: now.Add(-5 * time.Minute)},
		{CPUUtilization: 0.7, Timestamp: now},
	}

	c.predictiveTick(context.Background())

	require.Len(t, scaler.calls, 1)
	assert.Greater(t, scaler.calls[0], 10)
}

func TestPredictiveTickSkipsNoisyWindow(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 50}
	c, _ := newTestController(t, scaler, pools)
	c.cfg.PredictionHorizon = 15 * time.Minute

	now := time.Now()
	c.samples = []MetricSample{
		{CPUUtilization: 0.9, Timestamp: now.Add(-10 * time.Minute)},
		{CPUUtilization: 0.1, Timestamp: now.Add(-5 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now},
	}

	c.predictiveTick(context.Background())

	assert.Empty(t, scaler.calls, "a flat-trend noisy window should not trigger a predictive scale-up")
}

func TestPredictiveTickSkipsLowConfidenceFit(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 50}
	c, _ := newTestController(t, scaler, pools)
	c.cfg.PredictionHorizon = 15 * time.Minute
	c.cfg.PredictiveLoadRatio = 1.0

	now := time.Now()
	c.samples = []MetricSample{
		{CPUUtilization: 0.3, Timestamp: now.Add(-20 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now.Add(-15 * time.Minute)},
		{CPUUtilization: 0.3, Timestamp: now.Add(-10 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now.Add(-5 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now},
	}

	c.predictiveTick(context.Background())

	assert.Empty(t, scaler.calls, "a rising-mean but poorly-fit oscillating window should be rejected by the confidence gate")
}

func TestRSquaredIsOneForPerfectLine(t *testing.T) {
	now := time.Now()
	samples := []MetricSample{
		{CPUUtilization: 0.1, Timestamp: now},
		{CPUUtilization: 0.2, Timestamp: now.Add(1 * time.Minute)},
		{CPUUtilization: 0.3, Timestamp: now.Add(2 * time.Minute)},
	}
	slope, intercept := fitLinearRegression(samples)
	assert.InDelta(t, 1.0, rSquared(samples, slope, intercept), 1e-9)
}
