package fleet

import (
	"context"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/bus"
)

// SubscribeHealthEvents wires the coordinator's recovery policy to the
// health channel: unhealthy triggers recovery (logged only, the health
// monitor itself drives the recovering→healthy/failed transitions);
// failed terminates the agent and, if the pool then falls under its
// minimum, immediately requests a replacement spawn.
func (c *Coordinator) SubscribeHealthEvents(ctx context.Context) error {
	return c.b.Subscribe(ctx, bus.ChannelHealth, func(env bus.Envelope) {
		if env.Type != bus.EventHealthStatusChanged {
			return
		}
		agentID, _ := env.Data["agentId"].(string)
		current, _ := env.Data["current"].(string)
		if agentID == "" {
			return
		}

		switch current {
		case "unhealthy":
			c.logger.WithField("agent_id", agentID).Info("Health monitor requested recovery")
		case "failed":
			c.handleAgentFailed(ctx, agentID)
		}
	})
}

func (c *Coordinator) handleAgentFailed(ctx context.Context, agentID string) {
	ag, found, err := c.registry.Get(ctx, agentID)
	if err != nil || !found {
		return
	}
	poolType := ag.Type

	if err := c.TerminateAgent(ctx, agentID, "agent_failed"); err != nil {
		c.logger.WithError(err).WithField("agent_id", agentID).Warn("Failed to terminate failed agent")
		return
	}

	if pool, ok := c.allocator.Pool(poolType); ok && c.allocator.CurrentAgents(poolType) < pool.Config.MinAgents {
		if _, err := c.SpawnAgent(ctx, agent.Config{Type: poolType}); err != nil {
			c.logger.WithError(err).WithField("pool_type", poolType).Warn("Failed to spawn replacement agent")
		}
	}
}

// SubscribeResultEvents wires externally-reported task completions
// onto the coordinator's completion path.
func (c *Coordinator) SubscribeResultEvents(ctx context.Context) error {
	return c.b.Subscribe(ctx, bus.ChannelResults, func(env bus.Envelope) {
		taskID, _ := env.Data["taskId"].(string)
		if taskID == "" {
			return
		}
		switch env.Type {
		case bus.EventTaskCompleted:
			durationMs, _ := env.Data["duration"].(float64)
			if err := c.CompleteTask(ctx, taskID, durationMs); err != nil {
				c.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to record task completion")
			}
		case bus.EventTaskFailed:
			reason, _ := env.Data["reason"].(string)
			if err := c.FailTask(ctx, taskID, reason); err != nil {
				c.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to record task failure")
			}
		}
	})
}
