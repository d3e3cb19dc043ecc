// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics, domain codes name the failing concern.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "message": "daily quota exhausted",
//	  "quota": {"scope": "daily", "limit": 10, "remaining": 0, "reset_at": "2025-03-02T00:00:00Z"}
//	}
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_error"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeQuotaExceeded = "quota_exceeded"
	ErrCodeStorage       = "storage_error"
	ErrCodeUpstream      = "upstream_error"
)

// failErr maps err onto the error taxonomy and writes the envelope.
// Messages for 5xx are generic; the cause is logged by fail.
func failErr(c *gin.Context, err error) {
	var qe *domain.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		c.Header("Retry-After", retryAfter(qe.ResetAt, time.Now()))
		failWith(c, http.StatusTooManyRequests, ErrorResponse{
			Code:    ErrCodeQuotaExceeded,
			Message: string(qe.Scope) + " quota exhausted",
			Quota: &QuotaDetail{
				Scope:     string(qe.Scope),
				Limit:     qe.Limit,
				Remaining: qe.Remaining,
				Requested: qe.Requested,
				ResetAt:   qe.ResetAt,
			},
		}, err)
	case errors.Is(err, domain.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, trimKind(err, domain.ErrNotFound))
	case errors.Is(err, domain.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, trimKind(err, domain.ErrForbidden))
	case errors.Is(err, domain.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, trimKind(err, domain.ErrConflict))
	case errors.Is(err, domain.ErrStorage):
		failWith(c, http.StatusBadGateway, ErrorResponse{Code: ErrCodeStorage, Message: "image storage failed"}, err)
	case errors.Is(err, domain.ErrUpstreamGeneration):
		failWith(c, http.StatusBadGateway, ErrorResponse{Code: ErrCodeUpstream, Message: "image generation failed"}, err)
	default:
		failWith(c, http.StatusInternalServerError, ErrorResponse{Code: ErrCodeInternal, Message: "internal server error"}, err)
	}
}

// trimKind drops the ": <kind>" suffix that service sentinels carry.
func trimKind(err, kind error) string {
	msg, suffix := err.Error(), ": "+kind.Error()
	if len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
		return msg[:len(msg)-len(suffix)]
	}
	return msg
}
