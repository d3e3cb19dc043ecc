// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// GalleryStats returns the number of public gallery entries and the greatest
// UpdatedAt among them together with the greatest pattern UpdatedAt, so a
// like or download on any listed pattern also changes the result. When the
// gallery is empty, count is 0 and maxUpdatedAt is nil.
func GalleryStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.GalleryEntry{}).Where("is_public = ?", true)

	// Count
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	latest := row.UpdatedAt

	var prow struct {
		UpdatedAt time.Time
	}
	err = db.WithContext(ctx).Model(&domain.GeneratedPattern{}).
		Select("patterns.updated_at").
		Joins("JOIN gallery_entries g ON g.pattern_id = patterns.id AND g.is_public = ? AND g.deleted_at IS NULL", true).
		Order("patterns.updated_at DESC").
		Limit(1).
		Scan(&prow).Error
	if err != nil {
		return 0, nil, err
	}
	if prow.UpdatedAt.After(latest) {
		latest = prow.UpdatedAt
	}
	return count, &latest, nil
}

// CommentsStats returns the number of comments on entryID and the newest
// CreatedAt among them.
func CommentsStats(ctx context.Context, db *gorm.DB, entryID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Comment{}).Where("gallery_entry_id = ?", entryID)
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
