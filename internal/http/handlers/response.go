// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelope and the helpers every endpoint
// uses to write it:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "gallery entry not found"
//	}
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pattern-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
	// Present on quota_exceeded only
	Quota *QuotaDetail `json:"quota,omitempty"`
}

// QuotaDetail tells the client which window denied the request and when it
// resets.
type QuotaDetail struct {
	Scope     string    `json:"scope"     example:"daily"`
	Limit     int       `json:"limit"     example:"10"`
	Remaining int       `json:"remaining" example:"0"`
	Requested int       `json:"requested" example:"2"`
	ResetAt   time.Time `json:"reset_at"  example:"2025-03-02T00:00:00Z"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg}, nil)
}

func failWith(c *gin.Context, status int, resp ErrorResponse, cause error) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code)
		if cause != nil {
			ev = ev.Err(cause)
		}
		ev.Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() used by the router.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// retryAfter is the whole seconds until the quota window resets, at least 1.
func retryAfter(resetAt, now time.Time) string {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
