package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the standard JSON envelope for every admin API response.
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty"`
	Metadata *Metadata   `json:"metadata"`
}

// ErrorInfo carries error detail in a failed response.
type ErrorInfo struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Version   string    `json:"version"`
}

const (
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeNotFound           = "NOT_FOUND"
	ErrorCodeConflict           = "CONFLICT"
	ErrorCodeValidation         = "VALIDATION_ERROR"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// SuccessResponse writes a 200 envelope around data.
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Success:  true,
		Data:     data,
		Metadata: newMetadata(c),
	})
}

// ErrorResponse writes a failed envelope with the given status/code.
func ErrorResponse(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      errorCode,
			Message:   message,
			Details:   details,
			Timestamp: time.Now(),
			RequestID: getRequestID(c),
		},
		Metadata: newMetadata(c),
	})
}

func newMetadata(c *gin.Context) *Metadata {
	return &Metadata{
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
		Version:   "v1",
	}
}

// BadRequestError writes a 400 response.
func BadRequestError(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, 400, ErrorCodeBadRequest, message, details)
}

// NotFoundError writes a 404 response.
func NotFoundError(c *gin.Context, message string) {
	ErrorResponse(c, 404, ErrorCodeNotFound, message, nil)
}

// ConflictError writes a 409 response.
func ConflictError(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, 409, ErrorCodeConflict, message, details)
}

// ValidationError writes a 422 response.
func ValidationError(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, 422, ErrorCodeValidation, message, details)
}

// InternalError writes a 500 response.
func InternalError(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, 500, ErrorCodeInternalError, message, details)
}

// ServiceUnavailableError writes a 503 response.
func ServiceUnavailableError(c *gin.Context, message string) {
	ErrorResponse(c, 503, ErrorCodeServiceUnavailable, message, nil)
}

// getRequestID extracts or generates the tracing id for this request.
func getRequestID(c *gin.Context) string {
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return uuid.New().String()
}
