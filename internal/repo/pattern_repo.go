package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// HistoryFilter narrows a user's generation history. Empty fields are
// ignored; matches are case-insensitive.
type HistoryFilter struct {
	Motif     string
	Style     string
	Region    string
	InGallery *bool
}

// CreatePattern inserts p as-is. The caller assigns ID and timestamps.
func CreatePattern(ctx context.Context, db *gorm.DB, p *domain.GeneratedPattern) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

// GetPattern fetches a pattern by id or returns ErrNotFound.
func GetPattern(ctx context.Context, db *gorm.DB, id string) (*domain.GeneratedPattern, error) {
	var p domain.GeneratedPattern
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPatternsPage returns one page of ownerID's patterns, newest first, and
// the total matching the filter.
func ListPatternsPage(ctx context.Context, db *gorm.DB, ownerID string, f HistoryFilter, offset, limit int) ([]domain.GeneratedPattern, int64, error) {
	q := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.GeneratedPattern{}).Where("requester_id = ?", ownerID)
		if v := strings.TrimSpace(f.Motif); v != "" {
			q = q.Where("LOWER(motif) = ?", strings.ToLower(v))
		}
		if v := strings.TrimSpace(f.Style); v != "" {
			q = q.Where("LOWER(style) = ?", strings.ToLower(v))
		}
		if v := strings.TrimSpace(f.Region); v != "" {
			q = q.Where("LOWER(region) = ?", strings.ToLower(v))
		}
		if f.InGallery != nil {
			q = q.Where("in_gallery = ?", *f.InGallery)
		}
		return q
	}

	var total int64
	if err := q().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.GeneratedPattern
	err := q().
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// MarkInGallery flags the pattern as promoted.
func MarkInGallery(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.GeneratedPattern{}).
		Where("id = ?", id).
		Update("in_gallery", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDownloads bumps download_count by one and returns the new value.
func IncrementDownloads(ctx context.Context, db *gorm.DB, id string) (int, error) {
	res := db.WithContext(ctx).Model(&domain.GeneratedPattern{}).
		Where("id = ?", id).
		Update("download_count", gorm.Expr("download_count + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var p domain.GeneratedPattern
	if err := db.WithContext(ctx).Select("download_count").Where("id = ?", id).First(&p).Error; err != nil {
		return 0, err
	}
	return p.DownloadCount, nil
}

// AdjustLikesCount adds delta to the pattern's likes_count in one statement
// and returns the new value. The count never goes below zero.
func AdjustLikesCount(ctx context.Context, db *gorm.DB, patternID string, delta int) (int, error) {
	expr := gorm.Expr("likes_count + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN likes_count + ? < 0 THEN 0 ELSE likes_count + ? END", delta, delta)
	}
	res := db.WithContext(ctx).Model(&domain.GeneratedPattern{}).
		Where("id = ?", patternID).
		Update("likes_count", expr)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var p domain.GeneratedPattern
	if err := db.WithContext(ctx).Select("likes_count").Where("id = ?", patternID).First(&p).Error; err != nil {
		return 0, err
	}
	return p.LikesCount, nil
}
