package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/remediation"
)

// ErrorResponse represents the consistent error response format.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeActionInFlight     = "action_in_flight"
	CodeBackendUnavailable = "backend_unavailable"
	CodeInternal           = "internal_error"
)

// MapError maps remediation errors to an HTTP status and response body.
func MapError(c *gin.Context, err error) (int, ErrorResponse) {
	requestID := logger.RequestIDFromContext(c.Request.Context())

	var verr *remediation.ValidationError
	var terr *remediation.TransportError
	switch {
	case errors.As(err, &verr):
		resp := ErrorResponse{
			Error:     "bad_request",
			Code:      verr.Code,
			Message:   verr.Message,
			RequestID: requestID,
		}
		if len(verr.Queues) > 0 {
			resp.Details = map[string]interface{}{"queues": verr.Queues}
		}
		return http.StatusBadRequest, resp
	case errors.Is(err, remediation.ErrBusy):
		return http.StatusConflict, ErrorResponse{
			Error:     "conflict",
			Code:      CodeActionInFlight,
			Message:   err.Error(),
			RequestID: requestID,
		}
	case errors.As(err, &terr):
		return http.StatusBadGateway, ErrorResponse{
			Error:     "bad_gateway",
			Code:      CodeBackendUnavailable,
			Message:   terr.Error(),
			RequestID: requestID,
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error:     "internal_server_error",
			Code:      CodeInternal,
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		}
	}
}

func writeError(c *gin.Context, err error) {
	status, body := MapError(c, err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     "bad_request",
		Code:      CodeInvalidRequest,
		Message:   message,
		RequestID: logger.RequestIDFromContext(c.Request.Context()),
	})
}
