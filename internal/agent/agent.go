// Package agent defines the canonical Agent record tracked by the
// fleet orchestration engine. Agents are addressable units of work
// capacity; the engine never executes their work itself, only tracks
// lifecycle, capability, and performance state for scheduling.
package agent

import (
	"time"
)

// Type identifies the pool an agent belongs to. The fixed enumeration
// mirrors the sixteen default pool types the engine ships with.
type Type string

const (
	TypeCoder          Type = "coder"
	TypeTester         Type = "tester"
	TypeReviewer       Type = "reviewer"
	TypeArchitect      Type = "architect"
	TypeResearcher     Type = "researcher"
	TypeAnalyst        Type = "analyst"
	TypeOptimizer      Type = "optimizer"
	TypeSecurity       Type = "security"
	TypePerformance    Type = "performance"
	TypeUI             Type = "ui"
	TypeMobile         Type = "mobile"
	TypeDevOps         Type = "devops"
	TypeDatabase       Type = "database"
	TypeNetwork        Type = "network"
	TypeInfrastructure Type = "infrastructure"
	TypeCoordinator    Type = "coordinator"
)

// Status is the lifecycle status of an agent.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusBusy        Status = "busy"
	StatusActive      Status = "active"
	StatusRecovering  Status = "recovering"
	StatusFailed      Status = "failed"
	StatusDraining    Status = "draining"
)

// Resources is the resource request an agent carries into its pool.
type Resources struct {
	CPU    float64 `json:"cpu"`    // requested CPU share in cores
	Memory int     `json:"memory"` // requested memory in MB
}

// Performance tracks an agent's running performance statistics.
type Performance struct {
	TasksCompleted   int64   `json:"tasksCompleted"`
	SuccessRate      float64 `json:"successRate"`      // EWMA in [0,1]
	AverageTaskTime  float64 `json:"averageTaskTime"`  // ms, running mean
}

// Health is the health sub-structure owned (written) exclusively by
// the health monitor; every other component only reads it.
type Health struct {
	LastHeartbeat          time.Time `json:"lastHeartbeat"`
	ConsecutiveFailures    int       `json:"consecutiveFailures"`
	RecoveryAttempts       int       `json:"recoveryAttempts"`
	CircuitBreakerTripped  bool      `json:"circuitBreakerTripped"`
	CircuitBreakerTrippedAt time.Time `json:"circuitBreakerTrippedAt,omitempty"`
}

// Agent is the canonical agent record. Registry is the sole writer of
// record; all other subsystems mutate it only through Registry's API,
// except Health which is written exclusively by the health monitor.
type Agent struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Status       Status            `json:"status"`
	Priority     int               `json:"priority"` // 1..10, higher preferred
	Capabilities map[string]struct{} `json:"-"`
	CapabilityList []string        `json:"capabilities"` // wire form of Capabilities
	Resources    Resources         `json:"resources"`
	Performance  Performance       `json:"performance"`
	Health       Health            `json:"health"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"` // monotonic per agent
}

// Concurrent access to a single Agent record is serialized by the
// Registry (a per-agent-id mutex around every write); Agent's own methods
// assume the caller already holds that serialization and do not lock
// internally.

// Config is the input to register a new agent.
type Config struct {
	ID           string            `json:"id,omitempty"`
	Type         Type              `json:"type"`
	Priority     int               `json:"priority,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Resources    Resources         `json:"resources,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// New constructs an Agent from a registration config. The caller (the
// Registry) is responsible for assigning an ID when Config.ID is
// empty and for persisting the result.
func New(cfg Config) *Agent {
	now := time.Now().UTC()

	priority := cfg.Priority
	if priority <= 0 {
		priority = 5
	} else if priority > 10 {
		priority = 10
	}

	caps := make(map[string]struct{}, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps[c] = struct{}{}
	}

	return &Agent{
		ID:             cfg.ID,
		Type:           cfg.Type,
		Status:         StatusIdle,
		Priority:       priority,
		Capabilities:   caps,
		CapabilityList: append([]string(nil), cfg.Capabilities...),
		Resources:      cfg.Resources,
		Performance:    Performance{SuccessRate: 1.0},
		Health: Health{
			LastHeartbeat: now,
		},
		Metadata:  cfg.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// HasCapabilities reports whether the agent's capability set is a
// superset of required.
func (a *Agent) HasCapabilities(required []string) bool {
	for _, r := range required {
		if _, ok := a.Capabilities[r]; !ok {
			return false
		}
	}
	return true
}

// CapabilityOverlap returns |required ∩ agent.capabilities|.
func (a *Agent) CapabilityOverlap(required []string) int {
	n := 0
	for _, r := range required {
		if _, ok := a.Capabilities[r]; ok {
			n++
		}
	}
	return n
}

// Snapshot returns a shallow copy safe to hand to other goroutines.
func (a *Agent) Snapshot() Agent {
	cp := *a
	cp.Capabilities = make(map[string]struct{}, len(a.Capabilities))
	for k := range a.Capabilities {
		cp.Capabilities[k] = struct{}{}
	}
	cp.CapabilityList = append([]string(nil), a.CapabilityList...)
	return cp
}

// PerformanceScore computes the weighted score used by the
// performance_based allocation strategy:
// 0.7*successRate + 0.3*(1/max(averageTaskTime,1)).
func (a *Agent) PerformanceScore() float64 {
	avg := a.Performance.AverageTaskTime
	if avg < 1 {
		avg = 1
	}
	return 0.7*a.Performance.SuccessRate + 0.3*(1/avg)
}

// DefaultPoolDefinition bundles the default (min, max, priority,
// resources) tuple for a pool type. Named-function, not a package
// singleton, per the redesign note against shared global constants.
type DefaultPoolDefinition struct {
	Type          Type
	MinAgents     int
	MaxAgents     int
	PriorityLevel int
	Resources     Resources
}

// DefaultPools returns the sixteen fixed pool type defaults.
func DefaultPools() []DefaultPoolDefinition {
	return []DefaultPoolDefinition{
		{TypeCoder, 5, 100, 8, Resources{CPU: 1, Memory: 512}},
		{TypeTester, 3, 80, 7, Resources{CPU: 1, Memory: 512}},
		{TypeReviewer, 2, 50, 7, Resources{CPU: 0.5, Memory: 256}},
		{TypeArchitect, 1, 20, 9, Resources{CPU: 1, Memory: 1024}},
		{TypeResearcher, 2, 40, 6, Resources{CPU: 0.5, Memory: 512}},
		{TypeAnalyst, 2, 40, 6, Resources{CPU: 0.5, Memory: 512}},
		{TypeOptimizer, 1, 30, 6, Resources{CPU: 1, Memory: 512}},
		{TypeSecurity, 1, 25, 8, Resources{CPU: 0.5, Memory: 512}},
		{TypePerformance, 1, 25, 6, Resources{CPU: 1, Memory: 512}},
		{TypeUI, 2, 50, 5, Resources{CPU: 0.5, Memory: 256}},
		{TypeMobile, 1, 30, 5, Resources{CPU: 0.5, Memory: 256}},
		{TypeDevOps, 1, 30, 7, Resources{CPU: 1, Memory: 512}},
		{TypeDatabase, 1, 20, 8, Resources{CPU: 1, Memory: 1024}},
		{TypeNetwork, 1, 20, 6, Resources{CPU: 0.5, Memory: 256}},
		{TypeInfrastructure, 1, 20, 7, Resources{CPU: 1, Memory: 512}},
		{TypeCoordinator, 1, 10, 10, Resources{CPU: 1, Memory: 512}},
	}
}
