// Package ferrors defines the error taxonomy shared across the fleet
// orchestration subsystems (store, registry, allocator, health, fleet,
// autoscale). Each subsystem keeps its own plain sentinel errors for
// everyday failures and reaches for Kind/FleetError only when a caller
// needs to branch on the failure class (queue retry vs. terminal fail,
// fatal-at-init vs. recoverable-at-runtime).
package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way callers across package boundaries
// need to branch on, per the error taxonomy.
type Kind string

const (
	// KindConfigInvalid marks a fatal configuration error (bad pool
	// bounds, contradictory autoscaling thresholds). Fatal at init.
	KindConfigInvalid Kind = "configuration_invalid"

	// KindStoreUnavailable marks the coordination store being
	// unreachable. Fatal during initialization; on persistent writes
	// during runtime it surfaces as KindStateInconsistent instead.
	KindStoreUnavailable Kind = "store_unavailable"

	// KindStateInconsistent marks a persist-write failure on a
	// critical path (allocation, termination) that could leave
	// in-memory and stored state diverging.
	KindStateInconsistent Kind = "state_inconsistent"

	// KindNoSuitableAgent marks a failed allocation attempt because no
	// agent in the candidate set qualified. Recoverable: the task
	// stays queued and is retried on the next dispatcher tick.
	KindNoSuitableAgent Kind = "no_suitable_agent"

	// KindNoPoolAcceptsTask marks a task that names a pool type with no
	// pool. Terminal: the task fails immediately. A task whose required
	// capabilities no agent offers is not given this kind; it stays
	// queued.
	KindNoPoolAcceptsTask Kind = "no_pool_accepts_task"

	// KindAllocationTimeout marks an allocation that outlived its
	// selection timeout before being confirmed active.
	KindAllocationTimeout Kind = "allocation_timeout"

	// KindTaskTimeout marks a watchdog-triggered task failure.
	KindTaskTimeout Kind = "task_timeout"

	// KindAgentUnhealthy marks an agent that has entered a degraded or
	// unhealthy health state, driving recovery.
	KindAgentUnhealthy Kind = "agent_unhealthy"

	// KindAgentFailed marks an agent that has been declared failed by
	// the health monitor, driving termination.
	KindAgentFailed Kind = "agent_failed"

	// KindCapacityExceeded marks a pool at its max bound rejecting a
	// scale-up request.
	KindCapacityExceeded Kind = "capacity_exceeded"

	// KindInvalidStateTransition guards against operations like
	// releasing an unknown allocation or transitioning a pool/agent
	// through a disallowed state change.
	KindInvalidStateTransition Kind = "invalid_state_transition"
)

// FleetError is the structured error type carried across subsystem
// boundaries for taxonomy-classified failures.
type FleetError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *FleetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *FleetError) Unwrap() error { return e.Err }

// New builds a FleetError for op/kind with no wrapped cause.
func New(op string, kind Kind) *FleetError {
	return &FleetError{Op: op, Kind: kind}
}

// Wrap builds a FleetError for op/kind wrapping an underlying cause.
func Wrap(op string, kind Kind, err error) *FleetError {
	return &FleetError{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *FleetError, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var fe *FleetError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
