package autoscale

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/store"
)

type fakeScaler struct {
	calls []int
}

func (f *fakeScaler) ScalePool(ctx context.Context, poolType agent.Type, target int) error {
	f.calls = append(f.calls, target)
	return nil
}

type fakePools struct {
	current int
	min     int
	max     int
}

func (p *fakePools) CurrentAgents(t agent.Type) int { return p.current }

func (p *fakePools) ClampScaleTarget(t agent.Type, target int) (int, error) {
	if target < p.min {
		target = p.min
	}
	if target > p.max {
		target = p.max
	}
	return target, nil
}

func newTestController(t *testing.T, scaler *fakeScaler, pools *fakePools) (*Controller, store.Client) {
	t.Helper()
	client := store.NewMemoryClient()
	cfg := DefaultConfig(agent.TypeCoder)
	c := NewController(cfg, client, scaler, pools, nil, nil)
	c.ctx = context.Background()
	return c, client
}

func TestSampleOnceReadsSystemMetricsHash(t *testing.T) {
	c, client := newTestController(t, &fakeScaler{}, &fakePools{current: 5, max: 50})
	require.NoError(t, client.HashSet(context.Background(), "system:metrics", map[string]string{
		"cpuUtilization": "0.75",
		"queueLength":    "12",
	}))

	c.sampleOnce(context.Background())

	require.Len(t, c.samples, 1)
	assert.Equal(t, 0.75, c.samples[0].CPUUtilization)
	assert.Equal(t, 12.0, c.samples[0].QueueLength)
}

func TestSampleOnceTrimsToWindowSize(t *testing.T) {
	c, client := newTestController(t, &fakeScaler{}, &fakePools{current: 5, max: 50})
	c.cfg.WindowSize = 3
	require.NoError(t, client.HashSet(context.Background(), "system:metrics", map[string]string{"cpuUtilization": "0.5"}))

	for i := 0; i < 5; i++ {
		c.sampleOnce(context.Background())
	}

	assert.Len(t, c.samples, 3)
}

func TestPolicyTickScalesUpWhenSustainedAboveThreshold(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 50}
	c, _ := newTestController(t, scaler, pools)

	now := time.Now()
	c.samples = []MetricSample{
		{CPUUtilization: 0.9, Timestamp: now.Add(-6 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now.Add(-3 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now},
	}

	c.policyTick(context.Background())

	require.Len(t, scaler.calls, 1)
	assert.Greater(t, scaler.calls[0], 10)
}

func TestPolicyTickDoesNothingWhenBelowSustainedPeriod(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 50}
	c, _ := newTestController(t, scaler, pools)

	now := time.Now()
	c.samples = []MetricSample{
		{CPUUtilization: 0.9, Timestamp: now.Add(-1 * time.Minute)},
		{CPUUtilization: 0.9, Timestamp: now},
	}

	c.policyTick(context.Background())

	assert.Empty(t, scaler.calls)
}

func TestPolicyTickScalesDownWhenSustainedBelowThreshold(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 20, min: 2, max: 50}
	c, _ := newTestController(t, scaler, pools)

	now := time.Now()
	c.samples = []MetricSample{
		{CPUUtilization: 0.1, Timestamp: now.Add(-11 * time.Minute)},
		{CPUUtilization: 0.1, Timestamp: now.Add(-5 * time.Minute)},
		{CPUUtilization: 0.1, Timestamp: now},
	}

	c.policyTick(context.Background())

	require.Len(t, scaler.calls, 1)
	assert.Less(t, scaler.calls[0], 20)
}

func TestCostSweepScalesDownWhenUnderUtilized(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 20, min: 2, max: 50}
	c, _ := newTestController(t, scaler, pools)
	c.samples = []MetricSample{{CPUUtilization: 0.05, Timestamp: time.Now()}}

	c.costSweepTick(context.Background())

	require.Len(t, scaler.calls, 1)
	assert.Less(t, scaler.calls[0], 20)
}

func TestCostSweepSkipsWhenUtilizationAboveLowWater(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 20, min: 2, max: 50}
	c, _ := newTestController(t, scaler, pools)
	c.samples = []MetricSample{{CPUUtilization: 0.5, Timestamp: time.Now()}}

	c.costSweepTick(context.Background())

	assert.Empty(t, scaler.calls)
}

func TestApplyScaleRespectsScaleUpCooldown(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 50}
	c, _ := newTestController(t, scaler, pools)

	require.NoError(t, c.applyScale(context.Background(), 20, "test", "up"))
	require.NoError(t, c.applyScale(context.Background(), 30, "test", "up"))

	assert.Len(t, scaler.calls, 1, "second scale-up within cooldown should be skipped")
}

func TestHistoryIsBoundedAndPersisted(t *testing.T) {
	scaler := &fakeScaler{}
	pools := &fakePools{current: 10, max: 200}
	c, client := newTestController(t, scaler, pools)

	for i := 0; i < 5; i++ {
		c.recordEvent(context.Background(), ScaleEvent{Timestamp: time.Now(), Kind: "scale_initiated", Target: i})
	}

	assert.Len(t, c.History(), 5)

	raw, ok, err := client.Get(context.Background(), scaleHistoryKey(agent.TypeCoder))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, raw)
}
