// Package services – BatchOrchestrator
//
// RunBatch accepts 1..MaxBatchSize requests from one user. It reserves quota
// for the whole batch up front (all or nothing), then runs each item through
// the generation pipeline on a worker pool bounded by the batch size. Items
// fail independently: the report always lists every item in input order.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// DefaultMaxBatchSize bounds both batch length and concurrency.
const DefaultMaxBatchSize = 3

// Batch item statuses.
const (
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
)

var batchItems = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "pattern_batch_items_total",
	Help: "Batch items by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(batchItems)
}

// BatchItem is the outcome of one request in a batch.
type BatchItem struct {
	Index   int                      `json:"index"`
	Status  string                   `json:"status"`
	Pattern *domain.GeneratedPattern `json:"pattern,omitempty"`
	Error   *ItemError               `json:"error,omitempty"`
}

// ItemError describes a failed batch item.
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	err error
}

// Unwrap exposes the underlying error to errors.Is / errors.As.
func (e *ItemError) Unwrap() error { return e.err }

func (e *ItemError) Error() string { return e.Message }

// BatchReport aggregates a batch run. Items preserve input order.
type BatchReport struct {
	Items     []BatchItem `json:"items"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// BatchOrchestrator runs batches over a GenerationService pipeline.
type BatchOrchestrator struct {
	Pipeline     *GenerationService
	MaxBatchSize int
	Logger       zerolog.Logger
}

// NewBatchOrchestrator returns an orchestrator bounded by maxBatchSize
// (DefaultMaxBatchSize when not positive).
func NewBatchOrchestrator(pipeline *GenerationService, maxBatchSize int) *BatchOrchestrator {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &BatchOrchestrator{Pipeline: pipeline, MaxBatchSize: maxBatchSize, Logger: pipeline.Logger}
}

// RunBatch validates the batch size, reserves len(reqs) units atomically and
// dispatches every item. It returns an error only for batch-level pre-flight
// failures (empty or oversized batch, missing user, insufficient quota); in
// that case nothing was dispatched and no quota was consumed.
func (o *BatchOrchestrator) RunBatch(ctx context.Context, userID string, reqs []domain.GenerationRequest) (*BatchReport, error) {
	tr := otel.Tracer("services/BatchOrchestrator")
	ctx, span := tr.Start(ctx, "RunBatch",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("batch.size", len(reqs)),
		),
	)
	defer span.End()

	limit := o.MaxBatchSize
	if limit <= 0 {
		limit = DefaultMaxBatchSize
	}
	switch {
	case len(reqs) == 0:
		return nil, ErrEmptyBatch
	case len(reqs) > limit:
		return nil, ErrBatchTooLarge
	case userID == "":
		return nil, domain.NewValidationError("user_id", "is required")
	}

	start := time.Now()
	reservations, err := o.Pipeline.Quota.ReserveN(ctx, userID, len(reqs))
	if err != nil {
		return nil, err
	}

	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range reqs {
		i := i
		req := reqs[i]
		req.RequesterID = userID
		r := reservations[i]
		g.Go(func() error {
			item := BatchItem{Index: i}
			if err := gctx.Err(); err != nil {
				// cancelled before this item started
				o.Pipeline.release(gctx, r)
				item.Status, item.Error = ItemFailed, itemError(err)
				items[i] = item
				return nil
			}
			p, err := o.Pipeline.runItem(gctx, req, r)
			if err != nil {
				item.Status, item.Error = ItemFailed, itemError(err)
				o.Logger.Warn().Err(err).Str("user_id", userID).Int("index", i).Msg("batch item failed")
			} else {
				item.Status, item.Pattern = ItemSucceeded, p
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	rep := &BatchReport{Items: items, Total: len(items)}
	for _, it := range items {
		if it.Status == ItemSucceeded {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
		batchItems.WithLabelValues(it.Status).Inc()
	}

	span.SetAttributes(
		attribute.Int("batch.succeeded", rep.Succeeded),
		attribute.Int("batch.failed", rep.Failed),
	)
	o.Logger.Info().
		Str("user_id", userID).
		Int("total", rep.Total).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("batch completed")
	return rep, nil
}

// itemError classifies err with the same codes the HTTP layer uses.
func itemError(err error) *ItemError {
	code := "internal_error"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = "validation_error"
	case errors.Is(err, domain.ErrQuotaExceeded):
		code = "quota_exceeded"
	case errors.Is(err, domain.ErrStorage):
		code = "storage_error"
	case errors.Is(err, domain.ErrUpstreamGeneration):
		code = "upstream_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = "cancelled"
	}
	return &ItemError{Code: code, Message: err.Error(), err: err}
}
