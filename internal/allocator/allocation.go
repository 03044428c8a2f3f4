package allocator

import (
	"time"

	"github.com/aosanya/fleetctl/internal/agent"
)

// Status is the lifecycle status of an Allocation.
type Status string

const (
	StatusAllocated Status = "allocated"
	StatusReleased  Status = "released"
	StatusTimeout   Status = "timeout"
)

// Strategy names one of the five selection rules Allocate can apply.
type Strategy string

const (
	StrategyPriorityBased    Strategy = "priority_based"
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastLoaded      Strategy = "least_loaded"
	StrategyCapabilityMatch  Strategy = "capability_match"
	StrategyPerformanceBased Strategy = "performance_based"
)

// DefaultStrategy is applied when a task request names none.
const DefaultStrategy = StrategyPriorityBased

// DefaultAllocationTimeout bounds how long an allocation may sit
// unreleased before the reaper reclaims it, independent of the task's
// own execution timeout.
const DefaultAllocationTimeout = 30 * time.Second

// Allocation binds one task to one agent for the duration of
// execution. Allocator is the writer of record; the Fleet Coordinator
// only ever transitions Status to released.
type Allocation struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	PoolType    agent.Type `json:"poolType"`
	TaskID      string    `json:"taskId"`
	Strategy    Strategy  `json:"strategy"`
	AllocatedAt time.Time `json:"allocatedAt"`
	TimeoutAt   time.Time `json:"timeoutAt"`
	Status      Status    `json:"status"`
}

// Request describes the constraints a task imposes on its allocation.
type Request struct {
	TaskID       string
	PoolType     agent.Type // empty = any pool
	Capabilities []string
	Strategy     Strategy // empty = DefaultStrategy
	Resources    agent.Resources
}

// Result is the outcome of a successful release, fed back into the
// Registry's performance update.
type Result struct {
	Success       bool
	DurationMs    float64
	WatchdogFired bool // distinct from a clean failure; penalizes score more
}
