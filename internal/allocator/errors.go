package allocator

import "errors"

var (
	// ErrPoolExists is returned by createPool for an already-registered
	// pool type.
	ErrPoolExists = errors.New("allocator: pool already exists")

	// ErrPoolNotFound is returned by operations targeting an unknown
	// pool type.
	ErrPoolNotFound = errors.New("allocator: pool not found")

	// ErrPoolAtCapacity is returned by addAgentToPool when currentAgents
	// would exceed maxAgents.
	ErrPoolAtCapacity = errors.New("allocator: pool at max capacity")

	// ErrAgentHasActiveAllocation is returned by removeAgentFromPool
	// when the agent is currently allocated.
	ErrAgentHasActiveAllocation = errors.New("allocator: agent has an active allocation")

	// ErrAllocationNotFound is returned by Release for an allocation id
	// that does not exist. Releasing an allocation that is already
	// released or timed out is not an error.
	ErrAllocationNotFound = errors.New("allocator: allocation not found")
)
