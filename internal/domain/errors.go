// Package domain defines the persistence models and the shared error taxonomy
// for the pattern studio. Every layer (quota, generation, services, handlers)
// classifies failures against the kinds declared here so the HTTP layer can
// map them with errors.Is / errors.As without knowing which component failed.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Concrete errors wrap or match exactly one of these.
var (
	// ErrValidation marks malformed or missing caller input.
	ErrValidation = errors.New("validation failed")

	// ErrQuotaExceeded marks an admission denial by the quota tracker.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUpstreamGeneration marks a failure of the external image provider.
	// It is normally recovered by the placeholder fallback.
	ErrUpstreamGeneration = errors.New("upstream generation failed")

	// ErrStorage marks a failure to persist generated bytes.
	ErrStorage = errors.New("storage failed")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

// ValidationError describes which input field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Is reports a match against ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a small constructor used across packages.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// QuotaScope names the window that denied admission.
type QuotaScope string

const (
	QuotaScopeMonthly QuotaScope = "monthly"
	QuotaScopeDaily   QuotaScope = "daily"
)

// QuotaExceededError carries the limit that was hit, how much was left, and
// when the window resets.
type QuotaExceededError struct {
	Scope     QuotaScope `json:"scope"`
	Limit     int        `json:"limit"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	Requested int        `json:"requested"`
	ResetAt   time.Time  `json:"reset_at"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit %d reached (remaining %d, requested %d, resets %s)",
		e.Scope, e.Limit, e.Remaining, e.Requested, e.ResetAt.UTC().Format(time.RFC3339))
}

// Is reports a match against ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// UpstreamError wraps a provider failure with a short, metric-friendly reason.
type UpstreamError struct {
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return "upstream generation: " + e.Reason
	}
	return fmt.Sprintf("upstream generation: %s: %v", e.Reason, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamGeneration }
func (e *UpstreamError) Unwrap() error        { return e.Err }

// StorageError reports a failed write to object storage. It is terminal for
// the generation item that produced the bytes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
func (e *StorageError) Unwrap() error        { return e.Err }
