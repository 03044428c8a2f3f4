package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/fleetctl/internal/config"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "fleetctl", cfg.AppName)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Store.Host)
	assert.Equal(t, 6379, cfg.Store.Port)
	assert.Equal(t, 0.8, cfg.Swarm.UtilizationHighWater)
	assert.Equal(t, 3, cfg.Health.MaxFailures)
}

func TestLoadHonorsServerPortEnvOverride(t *testing.T) {
	t.Setenv("FLEETCTL_SERVER_PORT", "9090")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
}
