// Package api exposes the Fleet Coordinator's programmatic API over
// HTTP: the admin/status surface for external collaborators
// (dashboards, load balancers, ops tooling), never the engine's own
// internals.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/fleet"
	"github.com/aosanya/fleetctl/internal/validation"
)

// ServerConfig holds the HTTP listener's own settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64
	Environment  string
}

// DefaultServerConfig returns sane defaults for a local/dev listener.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodySize:  1 << 20,
		Environment:  "development",
	}
}

// Server is the HTTP admin surface over a Coordinator.
type Server struct {
	router *gin.Engine
	server *http.Server
	config *ServerConfig

	coordinator *fleet.Coordinator
	schemas     *validation.SchemaRegistry
	logger      *log.Logger
}

// NewServer wires a gin router with the admin surface's middleware
// and routes against coordinator.
func NewServer(config *ServerConfig, coordinator *fleet.Coordinator, schemas *validation.SchemaRegistry, logger *log.Logger) *Server {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if logger == nil {
		logger = log.New()
	}
	if schemas == nil {
		schemas = validation.NewSchemaRegistry()
	}

	router := gin.New()
	s := &Server{
		router:      router,
		config:      config,
		coordinator: coordinator,
		schemas:     schemas,
		logger:      logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware())
	s.router.Use(SecurityHeadersMiddleware())
	s.router.Use(ValidateContentTypeMiddleware())
	s.router.Use(RequestSizeLimitMiddleware(s.config.MaxBodySize))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/fleet/status", s.getFleetStatus)
		v1.GET("/fleet/metrics", s.getFleetMetrics)

		v1.POST("/agents", s.spawnAgent)
		v1.DELETE("/agents/:id", s.terminateAgent)

		v1.POST("/tasks", s.submitTask)
		v1.DELETE("/tasks/:id", s.cancelTask)

		v1.PUT("/pools/:type/size", s.scalePool)
		v1.POST("/pools/:type/scale-up", s.manualScaleUp)
		v1.POST("/pools/:type/scale-down", s.manualScaleDown)
	}
}

// GetRouter exposes the underlying gin engine, mainly for tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Start begins serving in the background; ListenAndServe's error is
// logged, not returned, since it always runs inside a goroutine the
// caller stops via Stop.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("admin API server failed")
		}
	}()
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	SuccessResponse(c, gin.H{"status": "healthy", "time": time.Now().UTC()})
}
