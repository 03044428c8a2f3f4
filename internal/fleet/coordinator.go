// Package fleet implements the Fleet Coordinator (spec component E):
// the central orchestrator owning the task queue, agent spawn/
// termination, task dispatch, completion handling, reactive
// autoscaling, and recovery policy.
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/store"
	"github.com/aosanya/fleetctl/internal/task"
)

// queueLengthKey holds the in-memory task queue's current length as a
// plain string value, rewritten whenever the queue changes size.
// Nothing in this module reads it back; the autoscaler takes its
// queue-length metric from system:metrics.
const queueLengthKey = "fleet:tasks:queue"

// Config holds the coordinator's own timing parameters. Health,
// allocation, and autoscaling parameters live in their own
// subsystems' configs.
type Config struct {
	SwarmID                string
	DispatchIdleTick        time.Duration
	ReactiveScaleInterval   time.Duration
	ReactiveScaleUpFactor   int     // agents added on scale-up (default 2)
	ReactiveScaleDownFactor int     // agents removed on scale-down (default 1)
	UtilizationHighWater    float64 // default 0.8
	UtilizationLowWater     float64 // default 0.3
	ShutdownDrainTimeout    time.Duration
}

// DefaultConfig returns the default coordinator timings.
func DefaultConfig(swarmID string) Config {
	return Config{
		SwarmID:                 swarmID,
		DispatchIdleTick:        time.Second,
		ReactiveScaleInterval:   30 * time.Second,
		ReactiveScaleUpFactor:   2,
		ReactiveScaleDownFactor: 1,
		UtilizationHighWater:    0.8,
		UtilizationLowWater:     0.3,
		ShutdownDrainTimeout:    30 * time.Second,
	}
}

// Coordinator is the Fleet Coordinator.
type Coordinator struct {
	cfg    Config
	logger *log.Logger

	registry  *registry.Repository
	allocator *allocator.Allocator
	client    store.Client
	b         *bus.Bus

	mu          sync.Mutex
	queue       *task.Queue
	tasks       map[string]*task.Task // all non-terminal tasks, queued or executing
	allocations map[string]string     // taskID -> allocationID, for executing tasks
	watchdogs   map[string]context.CancelFunc

	dispatchSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt time.Time
}

// New constructs a Coordinator. registry/allocator/client/b must be
// already wired to the same coordination store.
func New(cfg Config, reg *registry.Repository, alloc *allocator.Allocator, client store.Client, b *bus.Bus, logger *log.Logger) *Coordinator {
	if cfg.DispatchIdleTick == 0 {
		cfg = DefaultConfig(cfg.SwarmID)
	}
	if logger == nil {
		logger = log.New()
	}
	return &Coordinator{
		cfg:            cfg,
		logger:         logger,
		registry:       reg,
		allocator:      alloc,
		client:         client,
		b:              b,
		queue:          task.NewQueue(),
		tasks:          make(map[string]*task.Task),
		allocations:    make(map[string]string),
		watchdogs:      make(map[string]context.CancelFunc),
		dispatchSignal: make(chan struct{}, 1),
	}
}

// Start launches the dispatcher loop, the allocation reaper, and the
// reactive autoscaling hook. Emits coordinator_started.
//
// It also stays subscribed to the fleet channel for the lifetime of
// the coordinator, watching for a coordinator_started event from a
// different sender for the same swarm. Two coordinators sharing a
// swarm ID is never fatal here (the store has no leader election),
// but it usually means a misconfiguration, so it's logged as an
// advisory warning rather than silently tolerated.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = time.Now().UTC()

	if err := c.b.Subscribe(c.ctx, bus.ChannelFleet, c.watchForDuplicateCoordinator); err != nil {
		c.logger.WithError(err).Warn("Failed to subscribe for duplicate-coordinator detection")
	}

	c.wg.Add(3)
	go c.dispatchLoop()
	go c.reapLoop()
	go c.reactiveScaleLoop()

	c.publish(c.ctx, bus.EventCoordinatorStarted, map[string]interface{}{"swarmId": c.cfg.SwarmID})
}

func (c *Coordinator) watchForDuplicateCoordinator(env bus.Envelope) {
	if env.Type != bus.EventCoordinatorStarted || env.SenderID == c.b.SenderID() {
		return
	}
	c.logger.WithFields(log.Fields{
		"swarm_id":        c.cfg.SwarmID,
		"other_sender_id": env.SenderID,
	}).Warn("coordinator_already_running: another coordinator started for this swarm")
}

// Shutdown fails every executing task with task_failed(shutdown),
// snapshots the registry, then cancels watchdogs and all loops and
// waits for them to exit. cfg.ShutdownDrainTimeout bounds the
// task-failing and snapshot store calls. SubmitTask is not gated by
// Shutdown: a task submitted during or after the drain is queued and
// is never dispatched once the loops have stopped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownDrainTimeout)
	defer cancel()

	c.mu.Lock()
	executing := make([]*task.Task, 0)
	for _, t := range c.tasks {
		if t.Status == task.StatusExecuting {
			executing = append(executing, t)
		}
	}
	c.mu.Unlock()

	for _, t := range executing {
		c.failTask(drainCtx, t, "shutdown")
	}

	c.snapshot(drainCtx)

	c.cancel()
	c.wg.Wait()

	c.publish(ctx, bus.EventCoordinatorShutdown, map[string]interface{}{"swarmId": c.cfg.SwarmID})
	return nil
}

func (c *Coordinator) publish(ctx context.Context, eventType bus.EventType, data map[string]interface{}) {
	channel := bus.ChannelFleet
	switch eventType {
	case bus.EventTaskCompleted, bus.EventTaskFailed:
		channel = bus.ChannelResults
	case bus.EventTaskSubmitted, bus.EventTaskStarted, bus.EventTaskCancel:
		channel = bus.ChannelTasks
	case bus.EventScaleInitiated, bus.EventScaleCompleted, bus.EventScaleFailed:
		channel = bus.ChannelScaling
	}
	if err := c.b.Publish(ctx, channel, eventType, data); err != nil {
		c.logger.WithError(err).Warn("Failed to publish fleet event")
	}
}

// SpawnAgent registers a new agent and adds it to its pool.
func (c *Coordinator) SpawnAgent(ctx context.Context, cfg agent.Config) (string, error) {
	id, err := c.registry.Register(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("spawn agent: %w", err)
	}
	if err := c.allocator.AddAgentToPool(ctx, cfg.Type, id); err != nil {
		return "", fmt.Errorf("spawn agent: %w", err)
	}
	c.publish(ctx, bus.EventAgentSpawned, map[string]interface{}{"agentId": id, "type": string(cfg.Type)})
	c.wake()
	return id, nil
}

// TerminateAgent fails the agent's owning task (if any), removes it
// from its pool, and unregisters it.
func (c *Coordinator) TerminateAgent(ctx context.Context, agentID string, reason string) error {
	ag, found, err := c.registry.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("terminate agent %s: %w", agentID, err)
	}
	if !found {
		return fmt.Errorf("terminate agent %s: %w", agentID, registry.ErrAgentNotFound)
	}

	if ag.Status == agent.StatusBusy {
		c.mu.Lock()
		var owning *task.Task
		for _, t := range c.tasks {
			if t.AssignedAgent == agentID && t.Status == task.StatusExecuting {
				owning = t
				break
			}
		}
		c.mu.Unlock()
		if owning != nil {
			c.failTask(ctx, owning, "agent_terminated")
		}
	}

	if err := c.allocator.RemoveAgentFromPool(ctx, ag.Type, agentID); err != nil {
		return fmt.Errorf("terminate agent %s: %w", agentID, err)
	}
	if err := c.registry.Unregister(ctx, agentID); err != nil {
		return fmt.Errorf("terminate agent %s: %w", agentID, err)
	}

	c.publish(ctx, bus.EventAgentTerminated, map[string]interface{}{"agentId": agentID, "reason": reason})
	return nil
}

// SubmitTask assigns an id, enqueues req, and wakes the dispatcher.
func (c *Coordinator) SubmitTask(ctx context.Context, req task.Request) (string, error) {
	id := uuid.New().String()
	t := task.New(id, req)

	c.mu.Lock()
	c.tasks[id] = t
	c.queue.Push(t)
	c.mu.Unlock()
	c.persistQueueLength(ctx)

	c.publish(ctx, bus.EventTaskSubmitted, map[string]interface{}{"taskId": id, "priority": t.Priority})
	c.wake()
	return id, nil
}

// CancelTask drops a still-queued task. For an executing task it emits
// task_cancel toward the assigned agent, then fails the task as
// failed(cancelled) at once and releases its allocation, without
// waiting for the agent to report completion.
func (c *Coordinator) CancelTask(ctx context.Context, taskID string) error {
	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("cancel task %s: not found", taskID)
	}

	if t.Status == task.StatusQueued {
		c.queue.Remove(taskID)
		t.Status = task.StatusFailed
		delete(c.tasks, taskID)
		c.mu.Unlock()
		c.persistQueueLength(ctx)
		c.publish(ctx, bus.EventTaskFailed, map[string]interface{}{"taskId": taskID, "reason": "cancelled"})
		return nil
	}
	agentID := t.AssignedAgent
	c.mu.Unlock()

	c.publish(ctx, bus.EventTaskCancel, map[string]interface{}{"taskId": taskID, "agentId": agentID})
	c.failTask(ctx, t, "cancelled")
	return nil
}

func (c *Coordinator) wake() {
	select {
	case c.dispatchSignal <- struct{}{}:
	default:
	}
}

// persistQueueLength mirrors the in-memory queue's current length to
// the coordination store. Called after every queue mutation.
func (c *Coordinator) persistQueueLength(ctx context.Context) {
	c.mu.Lock()
	n := c.queue.Len()
	c.mu.Unlock()

	if err := c.client.SetWithTTL(ctx, queueLengthKey, strconv.Itoa(n), store.DefaultTTL); err != nil {
		c.logger.WithError(err).Warn("Failed to persist queue length")
	}
}
