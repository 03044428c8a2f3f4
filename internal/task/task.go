// Package task defines the unit of work the Fleet Coordinator queues
// and dispatches to agents. The core never executes a task's payload;
// it only tracks its lifecycle and routes completion reports back to
// the submitter via the results channel.
package task

import "time"

// Status is the lifecycle status of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// DefaultTimeout is applied when a task omits its own.
const DefaultTimeout = 5 * time.Minute

// DefaultPriority is applied when a task omits its own.
const DefaultPriority = 5

// Request is the caller-supplied shape for submitTask; Task is the
// coordinator's internal record derived from it.
type Request struct {
	PoolType          string            `json:"poolType"`
	Capabilities      []string          `json:"capabilities,omitempty"`
	Priority          int               `json:"priority,omitempty"`
	Strategy          string            `json:"strategy,omitempty"` // allocator strategy name, empty = allocator default
	Payload           interface{}       `json:"payload,omitempty"`
	EstimatedDuration time.Duration     `json:"estimatedDuration,omitempty"`
	Timeout           time.Duration     `json:"timeout,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Task is the coordinator's record of one unit of work.
type Task struct {
	ID                string            `json:"id"`
	PoolType          string            `json:"poolType,omitempty"`
	Capabilities      []string          `json:"capabilities,omitempty"`
	Priority          int               `json:"priority"`
	Strategy          string            `json:"strategy,omitempty"`
	Payload           interface{}       `json:"payload,omitempty"`
	EstimatedDuration time.Duration     `json:"estimatedDuration,omitempty"`
	Timeout           time.Duration     `json:"timeout"`
	Status            Status            `json:"status"`
	Metadata          map[string]string `json:"metadata,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	AssignedAgent string     `json:"assignedAgent,omitempty"`

	// submittedSeq breaks priority ties by submission order (FIFO
	// within a priority level); assigned by the queue, not the caller.
	submittedSeq uint64
}

// New builds a queued Task from a Request, clamping/defaulting
// priority and timeout.
func New(id string, req Request) *Task {
	priority := req.Priority
	if priority <= 0 {
		priority = DefaultPriority
	} else if priority > 10 {
		priority = 10
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Task{
		ID:                id,
		PoolType:          req.PoolType,
		Capabilities:      append([]string(nil), req.Capabilities...),
		Priority:          priority,
		Strategy:          req.Strategy,
		Payload:           req.Payload,
		EstimatedDuration: req.EstimatedDuration,
		Timeout:           timeout,
		Status:            StatusQueued,
		Metadata:          req.Metadata,
		CreatedAt:         time.Now().UTC(),
	}
}
