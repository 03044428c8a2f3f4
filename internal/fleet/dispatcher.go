package fleet

import (
	"context"
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/ferrors"
	"github.com/aosanya/fleetctl/internal/task"
)

func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.DispatchIdleTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.dispatchOnce()
		case <-c.dispatchSignal:
			c.dispatchOnce()
		}
	}
}

// dispatchOnce pops the queue head while it can be allocated. A
// not-yet-satisfiable head is left in place for the next tick; a head
// that no pool could ever satisfy fails immediately.
func (c *Coordinator) dispatchOnce() {
	for {
		c.mu.Lock()
		head := c.queue.Peek()
		c.mu.Unlock()
		if head == nil {
			return
		}

		alloc, err := c.allocator.Allocate(c.ctx, allocator.Request{
			TaskID:       head.ID,
			PoolType:     agent.Type(head.PoolType),
			Capabilities: head.Capabilities,
			Strategy:     allocator.Strategy(head.Strategy),
		})
		if err != nil {
			if c.taskUnsatisfiable(head) {
				c.mu.Lock()
				c.queue.Remove(head.ID)
				head.Status = task.StatusFailed
				delete(c.tasks, head.ID)
				c.mu.Unlock()
				c.persistQueueLength(c.ctx)
				c.publish(c.ctx, bus.EventTaskFailed, map[string]interface{}{
					"taskId": head.ID,
					"reason": string(ferrors.KindNoPoolAcceptsTask),
				})
				continue
			}
			return
		}

		c.mu.Lock()
		c.queue.Pop()
		now := time.Now().UTC()
		head.Status = task.StatusExecuting
		head.StartedAt = &now
		head.AssignedAgent = alloc.AgentID
		c.allocations[head.ID] = alloc.ID
		c.mu.Unlock()
		c.persistQueueLength(c.ctx)

		c.armWatchdog(head)

		c.publish(c.ctx, bus.EventTaskStarted, map[string]interface{}{
			"taskId":  head.ID,
			"agentId": alloc.AgentID,
		})
	}
}

// taskUnsatisfiable reports whether head names a pool type that has no
// pool. Required capabilities are not checked here: a task whose
// capabilities no current agent offers stays queued.
func (c *Coordinator) taskUnsatisfiable(head *task.Task) bool {
	if head.PoolType != "" {
		if _, ok := c.allocator.Pool(agent.Type(head.PoolType)); !ok {
			return true
		}
		return false
	}
	return false
}

func (c *Coordinator) armWatchdog(t *task.Task) {
	ctx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	c.watchdogs[t.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(t.Timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.watchdogFired(t)
		}
	}()
}

func (c *Coordinator) disarmWatchdog(taskID string) {
	c.mu.Lock()
	cancel, ok := c.watchdogs[taskID]
	delete(c.watchdogs, taskID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Coordinator) watchdogFired(t *task.Task) {
	c.disarmWatchdog(t.ID)
	c.completeTask(c.ctx, t.ID, allocator.Result{Success: false, DurationMs: float64(t.Timeout.Milliseconds()), WatchdogFired: true}, string(ferrors.KindTaskTimeout))
}

func (c *Coordinator) reapLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.DispatchIdleTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			expired, err := c.allocator.ReapExpired(c.ctx)
			if err != nil {
				c.logger.WithError(err).Warn("Allocation reaper failed")
				continue
			}
			for _, alloc := range expired {
				c.mu.Lock()
				t, ok := c.tasks[alloc.TaskID]
				c.mu.Unlock()
				if !ok {
					continue
				}
				c.disarmWatchdog(t.ID)
				c.finishTask(t, false)
				c.publish(c.ctx, bus.EventTaskFailed, map[string]interface{}{
					"taskId": t.ID,
					"reason": string(ferrors.KindAllocationTimeout),
				})
			}
		}
	}
}

// CompleteTask reports a successful task outcome. Called by the bus
// consumer handling task_completed events.
func (c *Coordinator) CompleteTask(ctx context.Context, taskID string, durationMs float64) error {
	c.disarmWatchdog(taskID)
	return c.completeTask(ctx, taskID, allocator.Result{Success: true, DurationMs: durationMs}, "")
}

// FailTask reports a failed task outcome with reason. Called by the
// bus consumer handling task_failed events and by health-driven
// termination.
func (c *Coordinator) FailTask(ctx context.Context, taskID string, reason string) error {
	c.disarmWatchdog(taskID)
	return c.completeTask(ctx, taskID, allocator.Result{Success: false}, reason)
}

func (c *Coordinator) completeTask(ctx context.Context, taskID string, result allocator.Result, failReason string) error {
	c.mu.Lock()
	t, ok := c.tasks[taskID]
	c.mu.Unlock()
	if !ok {
		return nil // already terminal: re-delivery is a no-op
	}

	c.mu.Lock()
	allocID, ok := c.allocations[taskID]
	delete(c.allocations, taskID)
	c.mu.Unlock()
	if ok {
		if err := c.allocator.Release(ctx, allocID, result); err != nil {
			c.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to release allocation on completion")
		}
	}

	c.finishTask(t, result.Success)

	if result.Success {
		c.publish(ctx, bus.EventTaskCompleted, map[string]interface{}{"taskId": taskID})
	} else {
		c.publish(ctx, bus.EventTaskFailed, map[string]interface{}{"taskId": taskID, "reason": failReason})
	}
	return nil
}

func (c *Coordinator) failTask(ctx context.Context, t *task.Task, reason string) {
	_ = c.completeTask(ctx, t.ID, allocator.Result{Success: false}, reason)
}

func (c *Coordinator) finishTask(t *task.Task, success bool) {
	now := time.Now().UTC()
	c.mu.Lock()
	t.FinishedAt = &now
	if success {
		t.Status = task.StatusCompleted
	} else {
		t.Status = task.StatusFailed
	}
	delete(c.tasks, t.ID)
	c.mu.Unlock()
}
