package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/aosanya/fleetctl/internal/agent"
)

// scalePoolRequest is the JSON body for PUT /pools/:type/size.
type scalePoolRequest struct {
	Target int `json:"target" binding:"required"`
}

func (s *Server) scalePool(c *gin.Context) {
	poolType := agent.Type(c.Param("type"))

	var req scalePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body", err.Error())
		return
	}

	if err := s.coordinator.ScalePool(c.Request.Context(), poolType, req.Target); err != nil {
		InternalError(c, "failed to scale pool", err.Error())
		return
	}
	SuccessResponse(c, gin.H{"poolType": poolType, "target": req.Target})
}

// scaleDeltaRequest is the JSON body for the scale-up/scale-down
// endpoints.
type scaleDeltaRequest struct {
	Count  int    `json:"count" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) manualScaleUp(c *gin.Context) {
	s.scaleByDelta(c, s.coordinator.ManualScaleUp)
}

func (s *Server) manualScaleDown(c *gin.Context) {
	s.scaleByDelta(c, s.coordinator.ManualScaleDown)
}

func (s *Server) scaleByDelta(c *gin.Context, apply func(ctx context.Context, poolType agent.Type, n int, reason string) error) {
	poolType := agent.Type(c.Param("type"))

	var req scaleDeltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body", err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "admin_requested"
	}

	if err := apply(c.Request.Context(), poolType, req.Count, req.Reason); err != nil {
		NotFoundError(c, err.Error())
		return
	}
	SuccessResponse(c, gin.H{"poolType": poolType, "delta": req.Count, "reason": req.Reason})
}
