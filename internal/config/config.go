// Package config loads the fleet orchestration engine's configuration
// from file, environment, and defaults, layered via viper and
// godotenv.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for a fleetd process.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Swarm       SwarmConfig       `mapstructure:"swarm"`
	Health      HealthConfig      `mapstructure:"health"`
	Allocation  AllocationConfig  `mapstructure:"allocation"`
	Autoscaling AutoscalingConfig `mapstructure:"autoscaling"`
}

// ServerConfig holds the HTTP admin/status surface's listener settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StoreConfig holds the Redis coordination store connection settings.
type StoreConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	DialTimeout  int    `mapstructure:"dial_timeout_seconds"`
	ReadTimeout  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeout int    `mapstructure:"write_timeout_seconds"`
}

// SwarmConfig identifies this coordinator instance and its dispatch
// timing.
type SwarmConfig struct {
	ID                      string        `mapstructure:"id"`
	DispatchIdleTick        time.Duration `mapstructure:"dispatch_idle_tick"`
	ReactiveScaleInterval   time.Duration `mapstructure:"reactive_scale_interval"`
	ReactiveScaleUpFactor   int           `mapstructure:"reactive_scale_up_factor"`
	ReactiveScaleDownFactor int           `mapstructure:"reactive_scale_down_factor"`
	UtilizationHighWater    float64       `mapstructure:"utilization_high_water"`
	UtilizationLowWater     float64       `mapstructure:"utilization_low_water"`
	ShutdownDrainTimeout    time.Duration `mapstructure:"shutdown_drain_timeout"`
}

// HealthConfig mirrors health.Config.
type HealthConfig struct {
	HeartbeatInterval       time.Duration `mapstructure:"heartbeat_interval"`
	HealthTimeout           time.Duration `mapstructure:"health_timeout"`
	MaxFailures             int           `mapstructure:"max_failures"`
	RecoveryTimeout         time.Duration `mapstructure:"recovery_timeout"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

// AllocationConfig mirrors the allocator's own timing knob.
type AllocationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// AutoscalingConfig holds the autoscaling controller's policy
// thresholds.
type AutoscalingConfig struct {
	MetricsSampleInterval time.Duration `mapstructure:"metrics_sample_interval"`
	PolicyEvalInterval    time.Duration `mapstructure:"policy_eval_interval"`
	PredictiveInterval    time.Duration `mapstructure:"predictive_interval"`
	CostSweepInterval     time.Duration `mapstructure:"cost_sweep_interval"`
	SustainedPeriod       time.Duration `mapstructure:"sustained_period"`
	ScaleUpCooldown       time.Duration `mapstructure:"scale_up_cooldown"`
	ScaleDownCooldown     time.Duration `mapstructure:"scale_down_cooldown"`
}

// Load reads configuration from configPath (if set), config.yaml in
// the working directory or ./configs, and environment variables
// prefixed FLEETCTL_, layered over hardcoded defaults.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			ext := filepath.Ext(configPath)
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(ext)]))
		}
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/fleetctl")

	viper.SetEnvPrefix("FLEETCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if password := os.Getenv("FLEETCTL_STORE_PASSWORD"); password != "" {
		cfg.Store.Password = password
	}
	if port := os.Getenv("FLEETCTL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		AppName:   "fleetctl",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Store: StoreConfig{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     20,
			DialTimeout:  5,
			ReadTimeout:  3,
			WriteTimeout: 3,
		},
		Swarm: SwarmConfig{
			ID:                      "default",
			DispatchIdleTick:        time.Second,
			ReactiveScaleInterval:   30 * time.Second,
			ReactiveScaleUpFactor:   2,
			ReactiveScaleDownFactor: 1,
			UtilizationHighWater:    0.8,
			UtilizationLowWater:     0.3,
			ShutdownDrainTimeout:    30 * time.Second,
		},
		Health: HealthConfig{
			HeartbeatInterval:       5 * time.Second,
			HealthTimeout:           10 * time.Second,
			MaxFailures:             3,
			RecoveryTimeout:         60 * time.Second,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   30 * time.Second,
		},
		Allocation: AllocationConfig{
			Timeout: 30 * time.Second,
		},
		Autoscaling: AutoscalingConfig{
			MetricsSampleInterval: 30 * time.Second,
			PolicyEvalInterval:    60 * time.Second,
			PredictiveInterval:    5 * time.Minute,
			CostSweepInterval:     10 * time.Minute,
			SustainedPeriod:       2 * time.Minute,
			ScaleUpCooldown:       60 * time.Second,
			ScaleDownCooldown:     120 * time.Second,
		},
	}
}
