package api

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) getFleetStatus(c *gin.Context) {
	status, err := s.coordinator.GetFleetStatus(c.Request.Context())
	if err != nil {
		InternalError(c, "failed to load fleet status", err.Error())
		return
	}
	SuccessResponse(c, status)
}

func (s *Server) getFleetMetrics(c *gin.Context) {
	metrics, err := s.coordinator.GetFleetMetrics(c.Request.Context())
	if err != nil {
		InternalError(c, "failed to load fleet metrics", err.Error())
		return
	}
	SuccessResponse(c, metrics)
}
