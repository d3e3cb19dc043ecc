// Package services – GenerationService
//
// This file implements GenerationService, which owns the single-item
// generation pipeline: compose the prompt, reserve quota, produce and store
// the image, persist the pattern, then commit the reservation (or release it
// on any failure after Reserve). The same pipeline backs every batch item.
//
// It also serves the read side of a user's studio: quota status, generation
// history, and download accounting.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/generation"
	"github.com/tbourn/go-pattern-backend/internal/prompt"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/utils"
)

// QuotaGate is the admission-control contract used by the pipeline.
type QuotaGate interface {
	ReserveN(ctx context.Context, userID string, n int) ([]quota.Reservation, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
	Status(ctx context.Context, userID string) (quota.Status, error)
}

// ImageGenerator produces and stores an image for a finalized prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (generation.ImageRef, error)
}

// GenerationService runs the generation pipeline.
type GenerationService struct {
	DB        *gorm.DB
	Composer  prompt.Composer
	Quota     QuotaGate
	Generator ImageGenerator

	// IdempotencyTTL is how long an Idempotency-Key replays the first result.
	IdempotencyTTL time.Duration

	Logger zerolog.Logger
}

// NewGenerationService wires a service with the standard composer when
// composer is nil.
func NewGenerationService(db *gorm.DB, composer prompt.Composer, q QuotaGate, gen ImageGenerator, idemTTL time.Duration) *GenerationService {
	if composer == nil {
		composer = prompt.Standard{}
	}
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &GenerationService{
		DB:             db,
		Composer:       composer,
		Quota:          q,
		Generator:      gen,
		IdempotencyTTL: idemTTL,
		Logger:         log.Logger,
	}
}

// GenerateSingle validates req, reserves one unit of quota and runs the
// pipeline. With a non-empty idemKey, a replay within the TTL returns the
// first pattern with replayed=true and consumes no quota.
func (s *GenerationService) GenerateSingle(ctx context.Context, req domain.GenerationRequest, idemKey string) (p *domain.GeneratedPattern, replayed bool, err error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateSingle",
		trace.WithAttributes(
			attribute.String("user.id", req.RequesterID),
			attribute.Bool("idempotent", idemKey != ""),
		),
	)
	defer span.End()

	if strings.TrimSpace(req.RequesterID) == "" {
		return nil, false, domain.NewValidationError("user_id", "is required")
	}

	idemKey = strings.TrimSpace(idemKey)
	if idemKey != "" {
		if prev, ok := s.replay(ctx, req.RequesterID, idemKey); ok {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return prev, true, nil
		}
	}

	// Validation happens before any quota is touched.
	finalPrompt, err := s.Composer.Compose(req.Fields, req.FreeText)
	if err != nil {
		return nil, false, err
	}

	rs, err := s.Quota.ReserveN(ctx, req.RequesterID, 1)
	if err != nil {
		return nil, false, err
	}

	p, err = s.complete(ctx, req, finalPrompt, rs[0])
	if err != nil {
		return nil, false, err
	}

	if idemKey != "" {
		s.remember(ctx, req.RequesterID, idemKey, p.ID)
	}
	return p, false, nil
}

// runItem composes, generates and persists one reserved request. The
// reservation is always settled before returning.
func (s *GenerationService) runItem(ctx context.Context, req domain.GenerationRequest, r quota.Reservation) (*domain.GeneratedPattern, error) {
	finalPrompt, err := s.Composer.Compose(req.Fields, req.FreeText)
	if err != nil {
		s.release(ctx, r)
		return nil, err
	}
	return s.complete(ctx, req, finalPrompt, r)
}

// complete generates, persists and commits; any failure releases r.
func (s *GenerationService) complete(ctx context.Context, req domain.GenerationRequest, finalPrompt string, r quota.Reservation) (*domain.GeneratedPattern, error) {
	ref, err := s.Generator.Generate(ctx, finalPrompt)
	if err != nil {
		s.release(ctx, r)
		return nil, err
	}

	p, err := s.persist(ctx, req, finalPrompt, ref)
	if err != nil {
		s.release(ctx, r)
		return nil, err
	}

	if err := s.Quota.Commit(ctx, r.Token); err != nil {
		// Counters were applied at reservation; a lost token only skews the
		// pending count.
		s.Logger.Warn().Err(err).Str("token", r.Token).Msg("quota: commit failed")
	}
	return p, nil
}

func (s *GenerationService) persist(ctx context.Context, req domain.GenerationRequest, finalPrompt string, ref generation.ImageRef) (*domain.GeneratedPattern, error) {
	fields := req.Fields.Normalized()
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &domain.GeneratedPattern{
		ID:               uuid.NewString(),
		RequesterID:      req.RequesterID,
		FinalPrompt:      finalPrompt,
		OriginalPrompt:   utils.CollapseSpaces(req.FreeText),
		Motif:            fields.Motif,
		Style:            fields.Style,
		Region:           fields.Region,
		StructuredFields: raw,
		ImageURL:         ref.URL,
		ImageDigest:      ref.Digest,
		Source:           ref.Kind,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.CreatePattern(ctx, s.DB, p); err != nil {
		return nil, &domain.StorageError{Op: "persist pattern", Err: err}
	}
	return p, nil
}

// release returns r even when ctx is already cancelled.
func (s *GenerationService) release(ctx context.Context, r quota.Reservation) {
	if err := s.Quota.Release(context.WithoutCancel(ctx), r.Token); err != nil {
		s.Logger.Error().Err(err).Str("user_id", r.UserID).Str("token", r.Token).Msg("quota: release failed")
	}
}

func (s *GenerationService) replay(ctx context.Context, userID, key string) (*domain.GeneratedPattern, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, repo.ScopeGenerate, key, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.Logger.Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, false
	}
	p, err := repo.GetPattern(ctx, s.DB, rec.ResourceID)
	if err != nil {
		return nil, false
	}
	return p, true
}

func (s *GenerationService) remember(ctx context.Context, userID, key, patternID string) {
	_, err := repo.CreateIdempotency(ctx, s.DB, userID, repo.ScopeGenerate, key, patternID, 201, s.IdempotencyTTL)
	if err != nil {
		// A concurrent request with the same key won; both patterns exist.
		s.Logger.Warn().Err(err).Str("user_id", userID).Str("pattern_id", patternID).Msg("idempotency record not stored")
	}
}

// GetQuotaStatus returns the user's monthly and daily window snapshot.
func (s *GenerationService) GetQuotaStatus(ctx context.Context, userID string) (quota.Status, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GetQuotaStatus", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return s.Quota.Status(ctx, userID)
}

// ListHistory returns a page of the user's patterns, newest first.
func (s *GenerationService) ListHistory(ctx context.Context, userID string, f repo.HistoryFilter, page, pageSize int) ([]domain.GeneratedPattern, int64, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "ListHistory",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := utils.PageOffset(page, pageSize)
	items, total, err := repo.ListPatternsPage(ctx, s.DB, userID, f, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.GeneratedPattern{}
	}
	return items, total, nil
}

// DownloadResult is returned by RecordDownload.
type DownloadResult struct {
	PatternID     string `json:"pattern_id"`
	ImageURL      string `json:"image_url"`
	DownloadCount int    `json:"download_count"`
}

// RecordDownload counts a download of patternID by userID. Only the owner,
// or anyone when the pattern is public in the gallery, may download.
func (s *GenerationService) RecordDownload(ctx context.Context, patternID, userID string) (*DownloadResult, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "RecordDownload",
		trace.WithAttributes(
			attribute.String("pattern.id", patternID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	p, err := visiblePattern(ctx, s.DB, patternID, userID)
	if err != nil {
		return nil, err
	}
	n, err := repo.IncrementDownloads(ctx, s.DB, p.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPatternNotFound
		}
		return nil, err
	}
	return &DownloadResult{PatternID: p.ID, ImageURL: p.ImageURL, DownloadCount: n}, nil
}

// visiblePattern loads patternID if userID owns it or it is public in the
// gallery. Anything else reads as not found.
func visiblePattern(ctx context.Context, db *gorm.DB, patternID, userID string) (*domain.GeneratedPattern, error) {
	p, err := repo.GetPattern(ctx, db, patternID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPatternNotFound
		}
		return nil, err
	}
	if p.RequesterID == userID {
		return p, nil
	}
	if p.InGallery {
		e, err := repo.GetGalleryEntryByPattern(ctx, db, p.ID)
		if err == nil && e.IsPublic {
			return p, nil
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrPatternNotFound
}
