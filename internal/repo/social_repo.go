package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// FindLike returns the like by userID on entryID, or ErrNotFound.
func FindLike(ctx context.Context, db *gorm.DB, entryID, userID string) (*domain.Like, error) {
	var l domain.Like
	err := db.WithContext(ctx).
		Where("gallery_entry_id = ? AND user_id = ?", entryID, userID).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLike inserts a like. A concurrent duplicate yields ErrDuplicate.
func CreateLike(ctx context.Context, db *gorm.DB, entryID, userID string) (*domain.Like, error) {
	l := &domain.Like{
		ID:             uuid.NewString(),
		GalleryEntryID: entryID,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(l).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return l, nil
}

// DeleteLike removes the like by userID on entryID and reports whether a
// row was deleted.
func DeleteLike(ctx context.Context, db *gorm.DB, entryID, userID string) (bool, error) {
	res := db.WithContext(ctx).
		Where("gallery_entry_id = ? AND user_id = ?", entryID, userID).
		Delete(&domain.Like{})
	return res.RowsAffected > 0, res.Error
}

// CreateComment appends a comment to entryID.
func CreateComment(ctx context.Context, db *gorm.DB, entryID, authorID, content string) (*domain.Comment, error) {
	c := &domain.Comment{
		ID:             uuid.NewString(),
		GalleryEntryID: entryID,
		AuthorID:       authorID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListCommentsPage returns comments on entryID, newest first, and the total.
func ListCommentsPage(ctx context.Context, db *gorm.DB, entryID string, offset, limit int) ([]domain.Comment, int64, error) {
	base := db.WithContext(ctx).Model(&domain.Comment{}).Where("gallery_entry_id = ?", entryID)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Comment
	err := base.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}
