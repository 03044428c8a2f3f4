package autoscale

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/store"
)

// systemMetricsKey is the coordination store hash external metric
// emitters publish to.
const systemMetricsKey = "system:metrics"

func scaleHistoryKey(poolType agent.Type) string {
	return "autoscaling:state:" + string(poolType)
}

// Scaler is the subset of the Fleet Coordinator the controller drives
// pool size through. Matches fleet.Coordinator.ScalePool exactly so
// the controller depends on a narrow interface rather than the whole
// coordinator.
type Scaler interface {
	ScalePool(ctx context.Context, poolType agent.Type, target int) error
}

// PoolView is the subset of the Allocator the controller reads
// current size and bounds from.
type PoolView interface {
	CurrentAgents(t agent.Type) int
	ClampScaleTarget(t agent.Type, target int) (int, error)
}

// Publisher is the subset of Bus used to emit scaling events.
type Publisher interface {
	Publish(ctx context.Context, channel string, eventType bus.EventType, data map[string]interface{}) error
}

// Controller runs the three autoscaling loops plus the cost sweep for
// one pool. One Controller manages one pool; a multi-pool fleet runs
// one Controller per autoscaled pool type.
type Controller struct {
	cfg    Config
	client store.Client
	scaler Scaler
	pools  PoolView
	pub    Publisher
	logger *log.Logger

	mu      sync.Mutex
	samples []MetricSample
	state   State
	history []ScaleEvent

	lastScaleUpAt   time.Time
	lastScaleDownAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController constructs a Controller for one pool. A zero-value
// Config.WindowSize reverts to DefaultConfig(cfg.PoolType).
func NewController(cfg Config, client store.Client, scaler Scaler, pools PoolView, pub Publisher, logger *log.Logger) *Controller {
	if cfg.WindowSize == 0 {
		cfg = DefaultConfig(cfg.PoolType)
	}
	if logger == nil {
		logger = log.New()
	}
	return &Controller{
		cfg:    cfg,
		client: client,
		scaler: scaler,
		pools:  pools,
		pub:    pub,
		logger: logger,
		state:  StateIdle,
	}
}

// Start launches the sampling, policy-evaluation, predictive, and
// cost-sweep loops.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(4)
	go c.sampleLoop()
	go c.policyLoop()
	go c.predictiveLoop()
	go c.costSweepLoop()
}

// Stop cancels every loop and waits for them to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// State returns the controller's current state-machine position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the bounded scale-history window.
func (c *Controller) History() []ScaleEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ScaleEvent, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) sampleLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.MetricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sampleOnce(c.ctx)
		}
	}
}

// sampleOnce reads system:metrics and appends to the ring buffer,
// trimming to WindowSize. Tests call it directly.
func (c *Controller) sampleOnce(ctx context.Context) {
	fields, err := c.client.HashGetAll(ctx, systemMetricsKey)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read system metrics")
		return
	}
	sample := MetricSample{
		CPUUtilization:    parseFloat(fields["cpuUtilization"]),
		MemoryUtilization: parseFloat(fields["memoryUtilization"]),
		QueueLength:       parseFloat(fields["queueLength"]),
		AvgResponseTime:   parseFloat(fields["avgResponseTime"]),
		Throughput:        parseFloat(fields["throughput"]),
		Timestamp:         time.Now().UTC(),
	}

	c.mu.Lock()
	c.samples = append(c.samples, sample)
	if len(c.samples) > c.cfg.WindowSize {
		c.samples = c.samples[len(c.samples)-c.cfg.WindowSize:]
	}
	c.mu.Unlock()
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func (c *Controller) publish(ctx context.Context, eventType bus.EventType, data map[string]interface{}) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(ctx, bus.ChannelScaling, eventType, data); err != nil {
		c.logger.WithError(err).Warn("Failed to publish scaling event")
	}
}

func (c *Controller) recordEvent(ctx context.Context, ev ScaleEvent) {
	c.mu.Lock()
	c.history = append(c.history, ev)
	if len(c.history) > maxHistoryLen {
		c.history = c.history[len(c.history)-maxHistoryLen:]
	}
	history := make([]ScaleEvent, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	encoded, err := store.Encode(history)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode scale history")
		return
	}
	if err := c.client.SetWithTTL(ctx, scaleHistoryKey(c.cfg.PoolType), encoded, store.DefaultTTL); err != nil {
		c.logger.WithError(err).Warn("Failed to persist scale history")
	}
}

// applyScale requests the clamped target through the scaler, honoring
// cooldowns, and records + publishes the outcome. direction is "up" or
// "down", purely for cooldown bookkeeping and event kind naming.
func (c *Controller) applyScale(ctx context.Context, target int, reason, direction string) error {
	now := time.Now()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	if direction == "up" && now.Sub(c.lastScaleUpAt) < c.cfg.ScaleUpCooldown {
		c.mu.Unlock()
		return nil
	}
	if direction == "down" && now.Sub(c.lastScaleDownAt) < c.cfg.ScaleDownCooldown {
		c.mu.Unlock()
		return nil
	}
	c.state = directionState(direction)
	c.mu.Unlock()

	clamped, err := c.pools.ClampScaleTarget(c.cfg.PoolType, target)
	current := c.pools.CurrentAgents(c.cfg.PoolType)
	if err != nil || clamped == current {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("autoscale %s: %w", c.cfg.PoolType, err)
		}
		return nil
	}

	c.publish(ctx, bus.EventScaleInitiated, map[string]interface{}{
		"poolType": string(c.cfg.PoolType), "target": clamped, "reason": reason,
	})
	c.recordEvent(ctx, ScaleEvent{Timestamp: now, Kind: "scale_initiated", Target: clamped, Reason: reason})

	if err := c.scaler.ScalePool(ctx, c.cfg.PoolType, clamped); err != nil {
		c.publish(ctx, bus.EventScaleFailed, map[string]interface{}{
			"poolType": string(c.cfg.PoolType), "target": clamped, "reason": err.Error(),
		})
		c.recordEvent(ctx, ScaleEvent{Timestamp: time.Now(), Kind: "scale_failed", Target: clamped, Reason: err.Error()})
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if direction == "up" {
		c.lastScaleUpAt = now
	} else {
		c.lastScaleDownAt = now
	}
	c.state = StateCooldown
	c.mu.Unlock()

	c.publish(ctx, bus.EventScaleCompleted, map[string]interface{}{
		"poolType": string(c.cfg.PoolType), "target": clamped, "reason": reason,
	})
	c.recordEvent(ctx, ScaleEvent{Timestamp: time.Now(), Kind: "scale_completed", Target: clamped, Reason: reason})

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	return nil
}

func directionState(direction string) State {
	if direction == "up" {
		return StateScalingUp
	}
	return StateScalingDown
}
