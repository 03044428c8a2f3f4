package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/registry"
)

// spawnAgentRequest is the JSON body for POST /agents.
type spawnAgentRequest struct {
	Type         agent.Type        `json:"type" binding:"required"`
	Priority     int               `json:"priority"`
	Capabilities []string          `json:"capabilities"`
	Resources    agent.Resources   `json:"resources"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Server) spawnAgent(c *gin.Context) {
	var req spawnAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body", err.Error())
		return
	}

	id, err := s.coordinator.SpawnAgent(c.Request.Context(), agent.Config{
		Type:         req.Type,
		Priority:     req.Priority,
		Capabilities: req.Capabilities,
		Resources:    req.Resources,
		Metadata:     req.Metadata,
	})
	if err != nil {
		InternalError(c, "failed to spawn agent", err.Error())
		return
	}
	SuccessResponse(c, gin.H{"agentId": id})
}

// terminateAgentRequest is the JSON body for DELETE /agents/:id.
type terminateAgentRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) terminateAgent(c *gin.Context) {
	agentID := c.Param("id")

	var req terminateAgentRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "admin_requested"
	}

	err := s.coordinator.TerminateAgent(c.Request.Context(), agentID, req.Reason)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			NotFoundError(c, "agent not found")
			return
		}
		InternalError(c, "failed to terminate agent", err.Error())
		return
	}
	SuccessResponse(c, gin.H{"agentId": agentID, "terminated": true})
}
