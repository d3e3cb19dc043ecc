// Package handlers exposes the REST endpoints of the pattern studio:
// generation (single and batch), history, downloads and quota status, the
// public gallery with likes and comments, and user collections.
//
// Handlers are transport-thin: they bind and validate input, call the
// services, and translate results and the domain error taxonomy into HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/http/middleware"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/services"
	"github.com/tbourn/go-pattern-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PatternService generates patterns and reads a user's history and quota.
type PatternService interface {
	GenerateSingle(ctx context.Context, req domain.GenerationRequest, idemKey string) (*domain.GeneratedPattern, bool, error)
	GetQuotaStatus(ctx context.Context, userID string) (quota.Status, error)
	ListHistory(ctx context.Context, userID string, f repo.HistoryFilter, page, pageSize int) ([]domain.GeneratedPattern, int64, error)
	RecordDownload(ctx context.Context, patternID, userID string) (*services.DownloadResult, error)
}

// BatchRunner runs a bounded batch of generation requests.
type BatchRunner interface {
	RunBatch(ctx context.Context, userID string, reqs []domain.GenerationRequest) (*services.BatchReport, error)
}

// GalleryService covers promotion, listing and the social layer.
type GalleryService interface {
	Promote(ctx context.Context, requesterID string, in services.PromoteInput) (*domain.GalleryEntry, error)
	GetEntry(ctx context.Context, entryID, userID string) (*domain.GalleryEntry, error)
	ToggleLike(ctx context.Context, entryID, userID string) (*services.LikeResult, error)
	AddComment(ctx context.Context, entryID, userID, content string) (*domain.Comment, error)
	ListComments(ctx context.Context, entryID, userID string, page, pageSize int) ([]domain.Comment, int64, error)
	ListPublicGallery(ctx context.Context, q services.GalleryQuery) ([]domain.GalleryEntry, int64, error)
	// Stats returns the number of public entries and the latest change, for
	// the listing ETag.
	Stats(ctx context.Context) (int64, *time.Time, error)
	CommentStats(ctx context.Context, entryID, userID string) (int64, *time.Time, error)
}

// CollectionService manages user-curated collections.
type CollectionService interface {
	Create(ctx context.Context, ownerID, name, description string, isPublic bool) (*domain.Collection, error)
	List(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Collection, int64, error)
	Items(ctx context.Context, collectionID, userID string, page, pageSize int) ([]domain.CollectionItem, int64, error)
	Add(ctx context.Context, collectionID, patternID, requesterID string) (*domain.CollectionItem, error)
	Remove(ctx context.Context, collectionID, patternID, requesterID string) error
}

//
// Handler wiring
//

// Handlers groups all HTTP endpoints.
type Handlers struct {
	patterns    PatternService
	batch       BatchRunner
	gallery     GalleryService
	collections CollectionService
}

// New constructs Handlers bound to the given services.
func New(patterns PatternService, batch BatchRunner, gallery GalleryService, collections CollectionService) *Handlers {
	return &Handlers{patterns: patterns, batch: batch, gallery: gallery, collections: collections}
}

// userID returns the identity resolved by middleware.Identity.
func userID(c *gin.Context) string { return middleware.UserID(c) }

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.IntParam(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.IntParam(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// uuidParam reads a path parameter that must be a UUID, writing 400 when it
// is not.
func uuidParam(c *gin.Context, name, what string) (string, bool) {
	v := c.Param(name)
	if _, err := uuid.Parse(v); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a UUID")
		return "", false
	}
	return v, true
}
