// Package autoscale implements the Autoscaling Controller (spec
// component F): three independent loops — metrics sampling, policy
// evaluation, and predictive scaling — plus a periodic cost-
// optimization sweep, all driving pool size through the same
// scalePool entrypoint the HTTP admin surface uses.
package autoscale

import (
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
)

// MetricSample is one point-in-time read of the coordination store's
// system:metrics hash, populated by external metric emitters.
type MetricSample struct {
	CPUUtilization    float64
	MemoryUtilization float64
	QueueLength       float64
	AvgResponseTime   float64
	Throughput        float64
	Timestamp         time.Time
}

func (s MetricSample) metric(name string) float64 {
	switch name {
	case MetricCPU:
		return s.CPUUtilization
	case MetricMemory:
		return s.MemoryUtilization
	case MetricQueueLength:
		return s.QueueLength
	default:
		return 0
	}
}

// Metric names a policy can target.
const (
	MetricCPU         = "cpu"
	MetricMemory      = "memory"
	MetricQueueLength = "queue"
)

// Policy is a user-defined scaling rule: an up-threshold and a
// down-threshold, each requiring the metric to stay continuously past
// it for its own sustained period before triggering.
type Policy struct {
	Name          string
	Metric        string
	UpThreshold   float64
	UpSustained   time.Duration
	DownThreshold float64
	DownSustained time.Duration
}

// State is the controller's state machine position. Never more than
// one scaling operation is in flight.
type State string

const (
	StateIdle              State = "idle"
	StateScalingUp         State = "scaling_up"
	StateScalingDown       State = "scaling_down"
	StateCooldown          State = "cooldown"
	StatePredictiveScaling State = "predictive_scaling"
)

// ScaleEvent is one entry in the controller's bounded scale history.
type ScaleEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // scale_initiated | scale_completed | scale_failed
	Target    int       `json:"target"`
	Reason    string    `json:"reason"`
}

// maxHistoryLen bounds the persisted scale-history window.
const maxHistoryLen = 100

// Config holds every timing/threshold knob of the autoscaling
// controller for one pool.
type Config struct {
	PoolType agent.Type

	WindowSize            int
	MetricsSampleInterval time.Duration
	PolicyEvalInterval    time.Duration
	PredictiveInterval    time.Duration
	PredictionHorizon     time.Duration
	CostSweepInterval     time.Duration

	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration

	MaxScaleUpStep         int
	MaxScaleDownStep       int
	MaxScaleUpRatePerMin   int
	MaxScaleDownRatePerMin int

	CostSweepUtilizationLowWater float64 // default 0.2
	PredictiveLoadRatio          float64 // default 1.2, predicted must exceed current by this ratio
	ConfidenceThreshold          float64 // default 0.7, minimum regression R² to act on a prediction

	Policies []Policy
}

// DefaultConfig returns the default thresholds, applied to poolType,
// with a single CPU-driven policy. Callers needing
// memory/queue policies or different thresholds append/replace
// Policies after calling this.
func DefaultConfig(poolType agent.Type) Config {
	return Config{
		PoolType:              poolType,
		WindowSize:            60,
		MetricsSampleInterval: 30 * time.Second,
		PolicyEvalInterval:    60 * time.Second,
		PredictiveInterval:    5 * time.Minute,
		PredictionHorizon:     15 * time.Minute,
		CostSweepInterval:     10 * time.Minute,

		ScaleUpCooldown:   60 * time.Second,
		ScaleDownCooldown: 120 * time.Second,

		MaxScaleUpStep:         50,
		MaxScaleDownStep:       20,
		MaxScaleUpRatePerMin:   100,
		MaxScaleDownRatePerMin: 50,

		CostSweepUtilizationLowWater: 0.2,
		PredictiveLoadRatio:          1.2,
		ConfidenceThreshold:          0.7,

		Policies: []Policy{
			{
				Name:          "cpu-default",
				Metric:        MetricCPU,
				UpThreshold:   0.8,
				UpSustained:   5 * time.Minute,
				DownThreshold: 0.3,
				DownSustained: 10 * time.Minute,
			},
		},
	}
}
