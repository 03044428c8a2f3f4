package agent_test

import (
	"testing"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsPriority(t *testing.T) {
	a := agent.New(agent.Config{Type: agent.TypeCoder})
	assert.Equal(t, 5, a.Priority)
	assert.Equal(t, agent.StatusIdle, a.Status)
	assert.Equal(t, 1.0, a.Performance.SuccessRate)
}

func TestNewClampsPriority(t *testing.T) {
	a := agent.New(agent.Config{Type: agent.TypeCoder, Priority: 99})
	assert.Equal(t, 10, a.Priority)
}

func TestHasCapabilities(t *testing.T) {
	a := agent.New(agent.Config{
		Type:         agent.TypeTester,
		Capabilities: []string{"go", "python", "rust"},
	})

	assert.True(t, a.HasCapabilities([]string{"go", "rust"}))
	assert.False(t, a.HasCapabilities([]string{"go", "java"}))
	assert.Equal(t, 2, a.CapabilityOverlap([]string{"go", "java", "rust"}))
}

func TestPerformanceScore(t *testing.T) {
	a := agent.New(agent.Config{Type: agent.TypeCoder})
	a.Performance.SuccessRate = 0.9
	a.Performance.AverageTaskTime = 200

	score := a.PerformanceScore()
	assert.InDelta(t, 0.7*0.9+0.3*(1.0/200), score, 1e-9)
}

func TestDefaultPoolsHasAllSixteenTypes(t *testing.T) {
	defs := agent.DefaultPools()
	assert.Len(t, defs, 16)

	seen := make(map[agent.Type]bool)
	for _, d := range defs {
		seen[d.Type] = true
		assert.LessOrEqual(t, d.MinAgents, d.MaxAgents)
	}
	assert.True(t, seen[agent.TypeCoordinator])
	assert.True(t, seen[agent.TypeCoder])
}
