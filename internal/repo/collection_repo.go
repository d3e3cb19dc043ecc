package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// CreateCollection inserts c.
func CreateCollection(ctx context.Context, db *gorm.DB, c *domain.Collection) error {
	return db.WithContext(ctx).Create(c).Error
}

// GetCollection fetches a collection by id or returns ErrNotFound.
func GetCollection(ctx context.Context, db *gorm.DB, id string) (*domain.Collection, error) {
	var c domain.Collection
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCollectionsPage returns ownerID's collections, newest first.
func ListCollectionsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Collection, int64, error) {
	base := db.WithContext(ctx).Model(&domain.Collection{}).Where("owner_id = ?", ownerID)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Collection
	err := base.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// AddCollectionItem links patternID into collectionID. An existing link
// yields ErrDuplicate.
func AddCollectionItem(ctx context.Context, db *gorm.DB, collectionID, patternID string) (*domain.CollectionItem, error) {
	it := &domain.CollectionItem{
		CollectionID: collectionID,
		PatternID:    patternID,
		AddedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(it).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return it, nil
}

// RemoveCollectionItem unlinks patternID from collectionID, or returns
// ErrNotFound when no such link exists.
func RemoveCollectionItem(ctx context.Context, db *gorm.DB, collectionID, patternID string) error {
	res := db.WithContext(ctx).
		Where("collection_id = ? AND pattern_id = ?", collectionID, patternID).
		Delete(&domain.CollectionItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCollectionItemsPage returns the items of collectionID with their
// patterns, most recently added first.
func ListCollectionItemsPage(ctx context.Context, db *gorm.DB, collectionID string, offset, limit int) ([]domain.CollectionItem, int64, error) {
	base := db.WithContext(ctx).Model(&domain.CollectionItem{}).Where("collection_id = ?", collectionID)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.CollectionItem
	err := base.Session(&gorm.Session{}).
		Preload("Pattern").
		Order("added_at DESC, pattern_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}
