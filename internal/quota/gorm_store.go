package quota

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// GormStore persists windows in the quota_windows table. Each Update runs in
// its own transaction with a row lock where the dialect supports one; an
// in-process per-user lock serializes writers that share this store.
type GormStore struct {
	DB    *gorm.DB
	users keyedMutex
}

// NewGormStore returns a GormStore over db.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, userID string) (domain.QuotaWindow, bool, error) {
	var w domain.QuotaWindow
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.QuotaWindow{}, false, nil
	}
	if err != nil {
		return domain.QuotaWindow{}, false, err
	}
	return w, true, nil
}

// Update implements Store.
func (s *GormStore) Update(ctx context.Context, userID string, fn UpdateFunc) (domain.QuotaWindow, error) {
	unlock := s.users.lock(userID)
	defer unlock()

	var out domain.QuotaWindow
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w domain.QuotaWindow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&w).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !found {
			w = domain.QuotaWindow{UserID: userID}
		}
		if err := fn(&w, found); err != nil {
			return err
		}
		w.UpdatedAt = time.Now().UTC()
		if found {
			err = tx.Save(&w).Error
		} else {
			err = tx.Create(&w).Error
		}
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return domain.QuotaWindow{}, err
	}
	return out, nil
}

// SweepExpired zeroes every window whose reset instant is at or before now
// and advances it to the next boundary. It returns the number of rows reset.
func (s *GormStore) SweepExpired(ctx context.Context, now time.Time, loc *time.Location) (int64, error) {
	now = now.UTC()
	var total int64
	res := s.DB.WithContext(ctx).Model(&domain.QuotaWindow{}).
		Where("monthly_reset_at <= ?", now).
		Updates(map[string]any{
			"monthly_count":    0,
			"monthly_reset_at": NextMonthStart(now, loc).UTC(),
			"updated_at":       now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	total += res.RowsAffected
	res = s.DB.WithContext(ctx).Model(&domain.QuotaWindow{}).
		Where("daily_reset_at <= ?", now).
		Updates(map[string]any{
			"daily_count":    0,
			"daily_reset_at": NextMidnight(now, loc).UTC(),
			"updated_at":     now,
		})
	if res.Error != nil {
		return total, res.Error
	}
	return total + res.RowsAffected, nil
}
