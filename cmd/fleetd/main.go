package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/allocator"
	"github.com/aosanya/fleetctl/internal/api"
	"github.com/aosanya/fleetctl/internal/autoscale"
	"github.com/aosanya/fleetctl/internal/bus"
	"github.com/aosanya/fleetctl/internal/config"
	"github.com/aosanya/fleetctl/internal/fleet"
	"github.com/aosanya/fleetctl/internal/health"
	"github.com/aosanya/fleetctl/internal/registry"
	"github.com/aosanya/fleetctl/internal/store"
	"github.com/aosanya/fleetctl/internal/validation"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetd\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	logger := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	logger.WithFields(log.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"swarm_id":   cfg.Swarm.ID,
	}).Info("Starting fleetd")

	client, err := store.NewRedisClient(store.Config{
		Host:         cfg.Store.Host,
		Port:         cfg.Store.Port,
		Password:     cfg.Store.Password,
		DB:           cfg.Store.DB,
		PoolSize:     cfg.Store.PoolSize,
		DialTimeout:  time.Duration(cfg.Store.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Store.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Store.WriteTimeout) * time.Second,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to coordination store")
	}
	defer client.Close()

	eventBus := bus.New(client, cfg.Swarm.ID, cfg.AppName+"-"+cfg.Swarm.ID, logger)
	reg := registry.New(client, eventBus, logger)
	alloc := allocator.New(reg, client, eventBus, cfg.Allocation.Timeout, logger)
	monitor := health.NewMonitor(health.Config{
		HeartbeatInterval:       cfg.Health.HeartbeatInterval,
		HealthTimeout:           cfg.Health.HealthTimeout,
		MaxFailures:             cfg.Health.MaxFailures,
		RecoveryTimeout:         cfg.Health.RecoveryTimeout,
		CircuitBreakerThreshold: cfg.Health.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.Health.CircuitBreakerTimeout,
	}, reg, eventBus, logger)

	coordinatorCfg := fleet.DefaultConfig(cfg.Swarm.ID)
	coordinatorCfg.DispatchIdleTick = cfg.Swarm.DispatchIdleTick
	coordinatorCfg.ReactiveScaleInterval = cfg.Swarm.ReactiveScaleInterval
	coordinatorCfg.ReactiveScaleUpFactor = cfg.Swarm.ReactiveScaleUpFactor
	coordinatorCfg.ReactiveScaleDownFactor = cfg.Swarm.ReactiveScaleDownFactor
	coordinatorCfg.UtilizationHighWater = cfg.Swarm.UtilizationHighWater
	coordinatorCfg.UtilizationLowWater = cfg.Swarm.UtilizationLowWater
	coordinatorCfg.ShutdownDrainTimeout = cfg.Swarm.ShutdownDrainTimeout
	coordinator := fleet.New(coordinatorCfg, reg, alloc, client, eventBus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, def := range agent.DefaultPools() {
		if err := alloc.CreatePool(ctx, allocator.Config{
			Type:           def.Type,
			MinAgents:      def.MinAgents,
			MaxAgents:      def.MaxAgents,
			PriorityLevel:  def.PriorityLevel,
			ResourceLimits: def.Resources,
		}); err != nil {
			logger.WithError(err).WithField("pool_type", def.Type).Fatal("Failed to create pool")
		}
	}

	monitor.Start(ctx)
	coordinator.Start(ctx)

	controllers := make([]*autoscale.Controller, 0, len(agent.DefaultPools()))
	for _, def := range agent.DefaultPools() {
		acfg := autoscale.DefaultConfig(def.Type)
		acfg.MetricsSampleInterval = cfg.Autoscaling.MetricsSampleInterval
		acfg.PolicyEvalInterval = cfg.Autoscaling.PolicyEvalInterval
		acfg.PredictiveInterval = cfg.Autoscaling.PredictiveInterval
		acfg.CostSweepInterval = cfg.Autoscaling.CostSweepInterval
		acfg.ScaleUpCooldown = cfg.Autoscaling.ScaleUpCooldown
		acfg.ScaleDownCooldown = cfg.Autoscaling.ScaleDownCooldown
		for i := range acfg.Policies {
			acfg.Policies[i].UpSustained = cfg.Autoscaling.SustainedPeriod
			acfg.Policies[i].DownSustained = cfg.Autoscaling.SustainedPeriod
		}

		controller := autoscale.NewController(acfg, client, coordinator, alloc, eventBus, logger)
		controller.Start(ctx)
		controllers = append(controllers, controller)
	}

	schemas := validation.NewSchemaRegistry()
	apiCfg := api.DefaultServerConfig()
	apiCfg.Host = cfg.Server.Host
	apiCfg.Port = cfg.Server.Port
	apiCfg.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	apiCfg.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	server := api.NewServer(apiCfg, coordinator, schemas, logger)
	server.Start()

	logger.WithFields(log.Fields{
		"host": apiCfg.Host,
		"port": apiCfg.Port,
	}).Info("Admin API listening")

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Swarm.ShutdownDrainTimeout+10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Admin API shutdown error")
	}
	for _, controller := range controllers {
		controller.Stop()
	}
	monitor.Stop()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Coordinator shutdown error")
	}

	logger.Info("fleetd stopped")
}
