package registry

import "errors"

var (
	// ErrAgentNotFound is returned when an operation targets an
	// unknown agent id. Reads on an unknown id return (nil, false,
	// nil) instead; this is reserved for updates, which must fail
	// explicitly.
	ErrAgentNotFound = errors.New("registry: agent not found")

	// ErrAgentHasActiveAllocation is returned by Unregister when the
	// agent is currently busy; callers must drain it first.
	ErrAgentHasActiveAllocation = errors.New("registry: agent has an active allocation")

	// ErrInvalidTypeChange is returned when Update attempts to change
	// an agent's type while it is allocated (busy) — a pool-shared
	// resource cannot switch type out from under an active task.
	ErrInvalidTypeChange = errors.New("registry: cannot change type of an allocated agent")
)
