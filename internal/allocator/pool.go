// Package allocator owns typed agent pools and the strategies used to
// pick an agent for a task (spec component C). It holds no agent
// records of its own beyond membership bookkeeping; the Registry
// remains the source of truth for agent state.
package allocator

import (
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
)

// Config is the bound/resource configuration for one typed pool.
type Config struct {
	Type           agent.Type
	MinAgents      int
	MaxAgents      int
	PriorityLevel  int
	ResourceLimits agent.Resources
}

// Metrics tracks a pool's allocation activity.
type Metrics struct {
	TotalAllocations  int64
	ActiveAllocations int
	LastAllocationAt  time.Time
	LastScaleAt       time.Time
}

// Pool is a typed bucket of agent memberships plus its allocation
// metrics. Membership (which agent ids belong to the pool) is tracked
// here; the agent records themselves live in the Registry.
type Pool struct {
	Config  Config
	Members map[string]struct{} // agent id set
	Metrics Metrics

	roundRobinPos int
}

func newPool(cfg Config) *Pool {
	return &Pool{
		Config:  cfg,
		Members: make(map[string]struct{}),
	}
}

// CurrentAgents returns the pool's current membership count.
func (p *Pool) CurrentAgents() int {
	return len(p.Members)
}

// Utilization returns activeAllocations/currentAgents, or 0 if empty.
func (p *Pool) Utilization() float64 {
	current := p.CurrentAgents()
	if current == 0 {
		return 0
	}
	return float64(p.Metrics.ActiveAllocations) / float64(current)
}
