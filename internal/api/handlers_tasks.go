package api

import (
	"github.com/gin-gonic/gin"

	"github.com/aosanya/fleetctl/internal/agent"
	"github.com/aosanya/fleetctl/internal/task"
)

// submitTaskRequest is the JSON body for POST /tasks.
type submitTaskRequest struct {
	PoolType          string                 `json:"poolType" binding:"required"`
	Capabilities      []string               `json:"capabilities"`
	Priority          int                    `json:"priority"`
	Strategy          string                 `json:"strategy"`
	Payload           map[string]interface{} `json:"payload"`
	EstimatedDuration int64                  `json:"estimatedDurationMs"`
	TimeoutMs         int64                  `json:"timeoutMs"`
	Metadata          map[string]string      `json:"metadata"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "invalid request body", err.Error())
		return
	}

	if err := s.schemas.Validate(agent.Type(req.PoolType), req.Payload); err != nil {
		ValidationError(c, "task payload failed schema validation", err.Error())
		return
	}

	taskID, err := s.coordinator.SubmitTask(c.Request.Context(), task.Request{
		PoolType:          req.PoolType,
		Capabilities:      req.Capabilities,
		Priority:          req.Priority,
		Strategy:          req.Strategy,
		Payload:           req.Payload,
		EstimatedDuration: millisToDuration(req.EstimatedDuration),
		Timeout:           millisToDuration(req.TimeoutMs),
		Metadata:          req.Metadata,
	})
	if err != nil {
		InternalError(c, "failed to submit task", err.Error())
		return
	}
	SuccessResponse(c, gin.H{"taskId": taskID})
}

func (s *Server) cancelTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := s.coordinator.CancelTask(c.Request.Context(), taskID); err != nil {
		NotFoundError(c, err.Error())
		return
	}
	SuccessResponse(c, gin.H{"taskId": taskID, "cancelled": true})
}
