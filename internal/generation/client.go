package generation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/storage"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds a single provider call. Defaults to 30s.
	Timeout time.Duration
	// PlaceholderSize is the edge length of fallback images. Defaults to 512.
	PlaceholderSize int
	Logger          *zerolog.Logger
}

// Client generates images with fallback and stores them.
type Client struct {
	provider    Provider
	placeholder *Placeholder
	store       storage.ObjectStore
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewClient builds a Client. A nil provider means every request falls back.
func NewClient(provider Provider, store storage.ObjectStore, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		provider:    provider,
		placeholder: NewPlaceholder(opts.PlaceholderSize),
		store:       store,
		timeout:     timeout,
		logger:      logger,
	}
}

// Produce returns image bytes for prompt, from the provider when it succeeds
// and from the placeholder otherwise. The only error is cancellation of ctx
// itself; an expired provider timeout is a fallback, not an error.
func (c *Client) Produce(ctx context.Context, prompt string) (Result, error) {
	ctx, span := otel.Tracer("generation").Start(ctx, "Produce")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var perr error
	if c.provider == nil {
		perr = &domain.UpstreamError{Reason: ReasonMissingCredentials}
	} else {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		var img []byte
		img, perr = c.provider.Generate(pctx, prompt)
		providerLatency.Observe(time.Since(start).Seconds())
		timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
		cancel()

		if perr == nil && len(img) == 0 {
			perr = &domain.UpstreamError{Reason: ReasonEmpty}
		}
		if perr == nil {
			generations.WithLabelValues(string(domain.GenerationReal)).Inc()
			span.SetAttributes(attribute.String("generation.kind", string(domain.GenerationReal)))
			return Result{Kind: domain.GenerationReal, Bytes: img}, nil
		}
		// parent cancellation is not a provider failure
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if timedOut {
			perr = &domain.UpstreamError{Reason: ReasonTimeout, Err: perr}
		}
	}

	reason := fallbackReason(perr)
	img, err := c.placeholder.Render(prompt)
	if err != nil {
		return Result{}, &domain.UpstreamError{Reason: "placeholder", Err: err}
	}

	ev := c.logger.Warn()
	if reason == ReasonMissingCredentials {
		ev = c.logger.Debug()
	}
	ev.Err(perr).Str("reason", reason).Msg("generation: provider unavailable, falling back to placeholder")

	generations.WithLabelValues(string(domain.GenerationFallback)).Inc()
	fallbacks.WithLabelValues(reason).Inc()
	span.SetAttributes(
		attribute.String("generation.kind", string(domain.GenerationFallback)),
		attribute.String("generation.fallback_reason", reason),
	)
	return Result{Kind: domain.GenerationFallback, Bytes: img, FallbackReason: reason}, nil
}

// Generate produces bytes for prompt and writes them to the object store.
// It fails only on cancellation of ctx or with a *domain.StorageError.
func (c *Client) Generate(ctx context.Context, prompt string) (ImageRef, error) {
	res, err := c.Produce(ctx, prompt)
	if err != nil {
		return ImageRef{}, err
	}

	ctx, span := otel.Tracer("generation").Start(ctx, "Store",
		trace.WithAttributes(attribute.Int("image.bytes", len(res.Bytes))))
	defer span.End()

	url, err := c.store.Store(ctx, res.Bytes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ImageRef{}, ctxErr
		}
		span.RecordError(err)
		return ImageRef{}, &domain.StorageError{Op: "store", Err: err}
	}
	return ImageRef{
		URL:            url,
		Digest:         storage.Digest(res.Bytes),
		Kind:           res.Kind,
		FallbackReason: res.FallbackReason,
	}, nil
}

func fallbackReason(err error) string {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) && ue.Reason != "" {
		return ue.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonTransport
}
