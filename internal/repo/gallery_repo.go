package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// Gallery sort keys.
const (
	SortRecent    = "recent"
	SortPopular   = "popular"
	SortLikes     = "likes"
	SortDownloads = "downloads"
)

// GalleryFilter selects public gallery entries. Motif, Style and Region
// match the promoted pattern case-insensitively; Search is a substring match
// on title, description and tags.
type GalleryFilter struct {
	Motif  string
	Style  string
	Region string
	Search string
	Sort   string
}

// galleryOrder maps sort keys to ORDER BY clauses. created_at DESC and id
// DESC always break ties so pagination is stable.
var galleryOrder = map[string]string{
	SortRecent:    "gallery_entries.created_at DESC, gallery_entries.id DESC",
	SortLikes:     "p.likes_count DESC, gallery_entries.created_at DESC, gallery_entries.id DESC",
	SortDownloads: "p.download_count DESC, gallery_entries.created_at DESC, gallery_entries.id DESC",
	SortPopular:   "(p.likes_count + p.download_count) DESC, gallery_entries.created_at DESC, gallery_entries.id DESC",
}

// ValidGallerySort reports whether s is a known sort key.
func ValidGallerySort(s string) bool {
	_, ok := galleryOrder[s]
	return ok
}

// CreateGalleryEntry inserts e. A second entry for the same pattern yields
// ErrDuplicate.
func CreateGalleryEntry(ctx context.Context, db *gorm.DB, e *domain.GalleryEntry) error {
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(e).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetGalleryEntry loads an entry with its pattern, or ErrNotFound.
func GetGalleryEntry(ctx context.Context, db *gorm.DB, id string) (*domain.GalleryEntry, error) {
	var e domain.GalleryEntry
	if err := db.WithContext(ctx).Preload("Pattern").Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// GetGalleryEntryByPattern returns the entry promoted from patternID.
func GetGalleryEntryByPattern(ctx context.Context, db *gorm.DB, patternID string) (*domain.GalleryEntry, error) {
	var e domain.GalleryEntry
	if err := db.WithContext(ctx).Where("pattern_id = ?", patternID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ListPublicGalleryPage returns one page of public entries with their
// patterns preloaded, plus the total matching f. Unknown sort keys fall back
// to recent.
func ListPublicGalleryPage(ctx context.Context, db *gorm.DB, f GalleryFilter, offset, limit int) ([]domain.GalleryEntry, int64, error) {
	q := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.GalleryEntry{}).
			Joins("JOIN patterns p ON p.id = gallery_entries.pattern_id AND p.deleted_at IS NULL").
			Where("gallery_entries.is_public = ?", true)
		if v := strings.TrimSpace(f.Motif); v != "" {
			q = q.Where("LOWER(p.motif) = ?", strings.ToLower(v))
		}
		if v := strings.TrimSpace(f.Style); v != "" {
			q = q.Where("LOWER(p.style) = ?", strings.ToLower(v))
		}
		if v := strings.TrimSpace(f.Region); v != "" {
			q = q.Where("LOWER(p.region) = ?", strings.ToLower(v))
		}
		if v := strings.TrimSpace(f.Search); v != "" {
			like := "%" + escapeLike(strings.ToLower(v)) + "%"
			q = q.Where(
				`(LOWER(gallery_entries.title) LIKE ? ESCAPE '\' OR LOWER(gallery_entries.description) LIKE ? ESCAPE '\' OR LOWER(CAST(gallery_entries.tags AS TEXT)) LIKE ? ESCAPE '\')`,
				like, like, like,
			)
		}
		return q
	}

	var total int64
	if err := q().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order, ok := galleryOrder[f.Sort]
	if !ok {
		order = galleryOrder[SortRecent]
	}
	var out []domain.GalleryEntry
	err := q().
		Select("gallery_entries.*").
		Preload("Pattern").
		Order(order).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}
