// Package generation turns a finalized prompt into stored image bytes.
//
// A Client first asks the configured Provider for an image within a bounded
// timeout. Any provider failure (missing credentials, timeout, non-2xx
// status, malformed payload) is logged, counted and replaced by a
// deterministic placeholder rendered from the prompt, so generation itself
// never fails. The bytes are then written through a storage.ObjectStore;
// that write is the only failure a caller sees, as *domain.StorageError.
package generation

import (
	"context"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// Provider is the external image-generation capability.
type Provider interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt string) ([]byte, error)

// Generate implements Provider.
func (f ProviderFunc) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}

// Result is the tagged outcome of producing image bytes. FallbackReason is
// set only for GenerationFallback.
type Result struct {
	Kind           domain.GenerationKind
	Bytes          []byte
	FallbackReason string
}

// ImageRef is a stored image.
type ImageRef struct {
	URL            string                `json:"url"`
	Digest         string                `json:"digest"`
	Kind           domain.GenerationKind `json:"kind"`
	FallbackReason string                `json:"fallback_reason,omitempty"`
}

// Fallback reasons reported on UpstreamError and in metrics.
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonTimeout            = "timeout"
	ReasonHTTPStatus         = "http_status"
	ReasonTransport          = "transport"
	ReasonMalformed          = "malformed_response"
	ReasonEmpty              = "empty_response"
)
