// Package httperrors writes JSON error responses for the HTTP endpoints.
// Responses carry a client-facing message and a stable code; causes are
// logged server-side and never sent.
package httperrors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Generic error messages that don't expose internal details
const (
	MsgForbidden          = "Insufficient permissions"
	MsgInternalError      = "Internal server error"
	MsgServiceUnavailable = "Service temporarily unavailable"
	MsgResourceNotFound   = "Resource not found"
	MsgBadRequest         = "Bad request"
)

// Error codes for responses that do not come from a ChatError
const (
	CodeForbidden          = "FORBIDDEN"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
)

// RespondChatError aborts the request with the status and wire form of err.
// Recoverable errors with a retry hint also set Retry-After.
func RespondChatError(c *gin.Context, err *chaterrors.ChatError) {
	if err.Recoverable && err.RetryAfter > 0 {
		seconds := (err.RetryAfter + 999) / 1000
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(seconds))
	}
	c.AbortWithStatusJSON(err.HTTPStatus(), ErrorResponse{
		Error: err.Message,
		Code:  string(err.Code),
	})
}

// RespondForbidden sends a 403 response with a generic message
func RespondForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
		Error: MsgForbidden,
		Code:  CodeForbidden,
	})
}

// RespondBadRequest sends a 400 response. details is optional.
func RespondBadRequest(c *gin.Context, message, details string) {
	if message == "" {
		message = MsgBadRequest
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Code:    CodeBadRequest,
		Details: details,
	})
}

// RespondInternalError sends a 500 response with a generic message
func RespondInternalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error: MsgInternalError,
		Code:  CodeInternalError,
	})
}

// RespondServiceUnavailable sends a 503 response
func RespondServiceUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: MsgServiceUnavailable,
		Code:  CodeServiceUnavailable,
	})
}

// RespondNotFound sends a 404 response
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = MsgResourceNotFound
	}
	c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
		Error: message,
		Code:  CodeNotFound,
	})
}
