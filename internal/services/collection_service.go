// Package services – CollectionService
//
// Collections are user-curated sets of patterns. Only the owner mutates a
// collection; its items are readable by the owner, or by anyone when the
// collection is public.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/utils"
)

// MaxCollectionNameRunes caps collection names.
const MaxCollectionNameRunes = 120

// CollectionService implements collection operations.
type CollectionService struct {
	DB *gorm.DB

	items keyedLocker
}

// NewCollectionService constructs a CollectionService.
func NewCollectionService(db *gorm.DB) *CollectionService {
	return &CollectionService{DB: db}
}

// Create makes a new collection owned by ownerID.
func (s *CollectionService) Create(ctx context.Context, ownerID, name, description string, isPublic bool) (*domain.Collection, error) {
	tr := otel.Tracer("services/CollectionService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", ownerID)))
	defer span.End()

	name = utils.CollapseSpaces(name)
	if name == "" {
		return nil, ErrEmptyCollectionName
	}
	if utf8.RuneCountInString(name) > MaxCollectionNameRunes {
		return nil, ErrCollectionNameTooLong
	}
	now := time.Now().UTC()
	c := &domain.Collection{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(description),
		IsPublic:    isPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateCollection(ctx, s.DB, c); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns a page of ownerID's collections, newest first.
func (s *CollectionService) List(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Collection, int64, error) {
	tr := otel.Tracer("services/CollectionService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := utils.PageOffset(page, pageSize)
	items, total, err := repo.ListCollectionsPage(ctx, s.DB, ownerID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Collection{}
	}
	return items, total, nil
}

// Items returns a page of a collection's items. Private collections are
// readable only by their owner.
func (s *CollectionService) Items(ctx context.Context, collectionID, userID string, page, pageSize int) ([]domain.CollectionItem, int64, error) {
	tr := otel.Tracer("services/CollectionService")
	ctx, span := tr.Start(ctx, "Items",
		trace.WithAttributes(
			attribute.String("collection.id", collectionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	c, err := s.load(ctx, collectionID)
	if err != nil {
		return nil, 0, err
	}
	if !c.IsPublic && c.OwnerID != userID {
		return nil, 0, ErrNotCollectionOwner
	}
	_, pageSize, offset := utils.PageOffset(page, pageSize)
	items, total, err := repo.ListCollectionItemsPage(ctx, s.DB, collectionID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.CollectionItem{}
	}
	return items, total, nil
}

// Add puts patternID into collectionID. The requester must own the
// collection and be able to see the pattern; a second add of the same
// pattern fails with ErrDuplicateCollectionItem.
func (s *CollectionService) Add(ctx context.Context, collectionID, patternID, requesterID string) (*domain.CollectionItem, error) {
	tr := otel.Tracer("services/CollectionService")
	ctx, span := tr.Start(ctx, "Add",
		trace.WithAttributes(
			attribute.String("collection.id", collectionID),
			attribute.String("pattern.id", patternID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	if _, err := s.owned(ctx, collectionID, requesterID); err != nil {
		return nil, err
	}
	p, err := visiblePattern(ctx, s.DB, patternID, requesterID)
	if err != nil {
		return nil, err
	}

	unlock := s.items.Lock(collectionID + "\x00" + patternID)
	defer unlock()

	it, err := repo.AddCollectionItem(ctx, s.DB, collectionID, patternID)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateCollectionItem
		}
		return nil, err
	}
	it.Pattern = *p
	return it, nil
}

// Remove takes patternID out of collectionID. Only the owner may remove.
func (s *CollectionService) Remove(ctx context.Context, collectionID, patternID, requesterID string) error {
	tr := otel.Tracer("services/CollectionService")
	ctx, span := tr.Start(ctx, "Remove",
		trace.WithAttributes(
			attribute.String("collection.id", collectionID),
			attribute.String("pattern.id", patternID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	if _, err := s.owned(ctx, collectionID, requesterID); err != nil {
		return err
	}

	unlock := s.items.Lock(collectionID + "\x00" + patternID)
	defer unlock()

	if err := repo.RemoveCollectionItem(ctx, s.DB, collectionID, patternID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCollectionItemNotFound
		}
		return err
	}
	return nil
}

func (s *CollectionService) load(ctx context.Context, id string) (*domain.Collection, error) {
	c, err := repo.GetCollection(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCollectionNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *CollectionService) owned(ctx context.Context, id, requesterID string) (*domain.Collection, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != requesterID {
		return nil, ErrNotCollectionOwner
	}
	return c, nil
}
