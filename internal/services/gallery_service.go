// Package services – GalleryService
//
// GalleryService owns the social layer around generated patterns: promoting
// an owned pattern into the gallery, toggling likes, commenting, and the
// public listing with filters and sort keys.
//
// Uniqueness is enforced twice: in-process with a lock keyed by the
// uniqueness tuple, and in the database with unique indexes (one entry per
// pattern, one like per user and entry) for multi-process deployments.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/utils"
)

// Gallery limits.
const (
	MaxTitleRunes   = 120
	MaxCommentRunes = 1000
	MaxTags         = 10
	MaxTagRunes     = 32
)

// PromoteInput carries the optional presentation fields for Promote. A nil
// Title is replaced by a title derived from the pattern's fields.
type PromoteInput struct {
	PatternID   string
	Title       *string
	Description string
	Tags        []string
	IsPublic    bool
}

// GalleryQuery filters and paginates the public listing.
type GalleryQuery struct {
	Motif    string
	Style    string
	Region   string
	Search   string
	Sort     string
	Page     int
	PageSize int
}

// LikeResult is the state after a toggle.
type LikeResult struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likes_count"`
}

// GalleryService implements gallery and social operations.
type GalleryService struct {
	DB *gorm.DB

	// TitleLocale drives casing of generated titles.
	TitleLocale language.Tag

	likes    keyedLocker
	promotes keyedLocker
}

// NewGalleryService constructs a GalleryService.
func NewGalleryService(db *gorm.DB) *GalleryService {
	return &GalleryService{DB: db, TitleLocale: language.Und}
}

// Promote creates a gallery entry from a pattern owned by requesterID.
func (s *GalleryService) Promote(ctx context.Context, requesterID string, in PromoteInput) (*domain.GalleryEntry, error) {
	tr := otel.Tracer("services/GalleryService")
	ctx, span := tr.Start(ctx, "Promote",
		trace.WithAttributes(
			attribute.String("pattern.id", in.PatternID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	unlock := s.promotes.Lock(in.PatternID)
	defer unlock()

	p, err := repo.GetPattern(ctx, s.DB, in.PatternID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPatternNotFound
		}
		return nil, err
	}
	if p.RequesterID != requesterID {
		return nil, ErrNotPatternOwner
	}
	if p.InGallery {
		return nil, ErrAlreadyPromoted
	}

	title := s.defaultTitle(p)
	if in.Title != nil {
		if t := utils.CollapseSpaces(*in.Title); t != "" {
			title = t
		}
	}
	if utf8.RuneCountInString(title) > MaxTitleRunes {
		return nil, ErrTitleTooLong
	}
	tags, err := json.Marshal(utils.NormalizeTags(in.Tags, MaxTags, MaxTagRunes))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &domain.GalleryEntry{
		ID:          uuid.NewString(),
		PatternID:   p.ID,
		OwnerID:     requesterID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Tags:        tags,
		IsPublic:    in.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateGalleryEntry(ctx, tx, e); err != nil {
			return err
		}
		return repo.MarkInGallery(ctx, tx, p.ID)
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrAlreadyPromoted
		}
		return nil, err
	}
	p.InGallery = true
	e.Pattern = *p
	return e, nil
}

// defaultTitle is "<Motif> <Style> Pattern" in title case.
func (s *GalleryService) defaultTitle(p *domain.GeneratedPattern) string {
	raw := utils.CollapseSpaces(p.Motif + " " + p.Style + " pattern")
	return cases.Title(s.TitleLocale).String(raw)
}

// GetEntry returns a public entry, or a private one to its owner.
func (s *GalleryService) GetEntry(ctx context.Context, entryID, userID string) (*domain.GalleryEntry, error) {
	tr := otel.Tracer("services/GalleryService")
	ctx, span := tr.Start(ctx, "GetEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	return s.visibleEntry(ctx, entryID, userID)
}

func (s *GalleryService) visibleEntry(ctx context.Context, entryID, userID string) (*domain.GalleryEntry, error) {
	e, err := repo.GetGalleryEntry(ctx, s.DB, entryID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if !e.IsPublic && e.OwnerID != userID {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// ToggleLike flips userID's like on entryID and returns the new state.
// Concurrent toggles by the same user are serialized.
func (s *GalleryService) ToggleLike(ctx context.Context, entryID, userID string) (*LikeResult, error) {
	tr := otel.Tracer("services/GalleryService")
	ctx, span := tr.Start(ctx, "ToggleLike",
		trace.WithAttributes(
			attribute.String("entry.id", entryID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	e, err := s.visibleEntry(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.likes.Lock(entryID + "\x00" + userID)
	defer unlock()

	var res LikeResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := repo.DeleteLike(ctx, tx, entryID, userID)
		if err != nil {
			return err
		}
		delta := -1
		if !removed {
			delta = 1
			if _, err := repo.CreateLike(ctx, tx, entryID, userID); err != nil {
				if !errors.Is(err, repo.ErrDuplicate) {
					return err
				}
				delta = 0
			}
		}
		n, err := repo.AdjustLikesCount(ctx, tx, e.PatternID, delta)
		if err != nil {
			return err
		}
		res = LikeResult{Liked: !removed, LikesCount: n}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AddComment appends a comment by userID to a visible entry.
func (s *GalleryService) AddComment(ctx context.Context, entryID, userID, content string) (*domain.Comment, error) {
	tr := otel.Tracer("services/GalleryService")
	ctx, span := tr.Start(ctx, "AddComment",
		trace.WithAttributes(
			attribute.String("entry.id", entryID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyComment
	}
	if utf8.RuneCountInString(content) > MaxCommentRunes {
		return nil, ErrCommentTooLong
	}
	if _, err := s.visibleEntry(ctx, entryID, userID); err != nil {
		return nil, err
	}
	return repo.CreateComment(ctx, s.DB, entryID, userID, content)
}

// ListComments returns a page of comments on a visible entry, newest first.
func (s *GalleryService) ListComments(ctx context.Context, entryID, userID string, page, pageSize int) ([]domain.Comment, int64, error) {
	tr := otel.Tracer("services/GalleryService")
	ctx, span := tr.Start(ctx, "ListComments",
		trace.WithAttributes(
			attribute.String("entry.id", entryID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.visibleEntry(ctx, entryID, userID); err != nil {
		return nil, 0, err
	}
	_, pageSize, offset := utils.PageOffset(page, pageSize)
	items, total, err := repo.ListCommentsPage(ctx, s.DB, entryID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Comment{}
	}
	return items, total, nil
}

// CommentStats returns the comment count and newest comment time on a
// visible entry, for the comments ETag.
func (s *GalleryService) CommentStats(ctx context.Context, entryID, userID string) (int64, *time.Time, error) {
	if _, err := s.visibleEntry(ctx, entryID, userID); err != nil {
		return 0, nil, err
	}
	return repo.CommentsStats(ctx, s.DB, entryID)
}

// ListPublicGallery returns public entries matching q, ordered by q.Sort
// (recent when empty) with newest first as tiebreak.
func (s *GalleryService) ListPublicGallery(ctx context.Context, q GalleryQuery) ([]domain.GalleryEntry, int64, error) {
	tr := otel.Tracer("services/GalleryService")
	ctx, span := tr.Start(ctx, "ListPublicGallery",
		trace.WithAttributes(
			attribute.String("sort", q.Sort),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	sort := strings.ToLower(strings.TrimSpace(q.Sort))
	if sort == "" {
		sort = repo.SortRecent
	}
	if !repo.ValidGallerySort(sort) {
		return nil, 0, ErrInvalidSort
	}
	_, pageSize, offset := utils.PageOffset(q.Page, q.PageSize)
	items, total, err := repo.ListPublicGalleryPage(ctx, s.DB, repo.GalleryFilter{
		Motif:  q.Motif,
		Style:  q.Style,
		Region: q.Region,
		Search: q.Search,
		Sort:   sort,
	}, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.GalleryEntry{}
	}
	return items, total, nil
}

// Stats returns the public gallery count and last modification, for ETags.
func (s *GalleryService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.GalleryStats(ctx, s.DB)
}
