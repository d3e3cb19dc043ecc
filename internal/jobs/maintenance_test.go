package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
)

func newJobsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:jobs_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

type failingSweeper struct{}

func (failingSweeper) SweepExpired(context.Context, time.Time, *time.Location) (int64, error) {
	return 0, errors.New("boom")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, Config{})
	require.Error(t, err)

	_, err = New(newJobsDB(t), nil, Config{Schedule: "not a cron spec"})
	require.Error(t, err)

	m, err := New(newJobsDB(t), nil, Config{})
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", m.cfg.Schedule)
	assert.Equal(t, time.Minute, m.cfg.Timeout)
}

func TestRunOnce_PurgesAndSweeps(t *testing.T) {
	db := newJobsDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// One expired and one live idempotency record.
	require.NoError(t, db.Create(&domain.Idempotency{
		ID: uuid.NewString(), UserID: "u1", Scope: repo.ScopeGenerate, Key: "old",
		ResourceID: "p1", Status: http.StatusCreated, ExpiresAt: now.Add(-time.Minute),
	}).Error)
	require.NoError(t, db.Create(&domain.Idempotency{
		ID: uuid.NewString(), UserID: "u1", Scope: repo.ScopeGenerate, Key: "live",
		ResourceID: "p2", Status: http.StatusCreated, ExpiresAt: now.Add(time.Hour),
	}).Error)

	// A window whose daily reset has passed.
	require.NoError(t, db.Create(&domain.QuotaWindow{
		UserID: "u1", MonthlyCount: 4, MonthlyLimit: 100, MonthlyResetAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		DailyCount: 3, DailyLimit: 10, DailyResetAt: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}).Error)

	m, err := New(db, quota.NewGormStore(db), Config{})
	require.NoError(t, err)
	m.now = func() time.Time { return now }

	s, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.IdempotencyPurged)
	assert.EqualValues(t, 1, s.QuotaWindowsReset)

	var left []domain.Idempotency
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, "live", left[0].Key)

	var w domain.QuotaWindow
	require.NoError(t, db.First(&w, "user_id = ?", "u1").Error)
	assert.Equal(t, 0, w.DailyCount)
	assert.Equal(t, 4, w.MonthlyCount)
	assert.True(t, w.DailyResetAt.After(now))

	// A second pass finds nothing left to do.
	s, err = m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.IdempotencyPurged)
	assert.Zero(t, s.QuotaWindowsReset)
}

func TestRunOnce_SweeperErrorStillPurges(t *testing.T) {
	db := newJobsDB(t)
	require.NoError(t, db.Create(&domain.Idempotency{
		ID: uuid.NewString(), UserID: "u1", Scope: repo.ScopeGenerate, Key: "old",
		ResourceID: "p1", Status: http.StatusCreated, ExpiresAt: time.Now().Add(-time.Hour),
	}).Error)

	m, err := New(db, failingSweeper{}, Config{})
	require.NoError(t, err)

	s, err := m.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep quota windows")
	assert.EqualValues(t, 1, s.IdempotencyPurged)
}

func TestStartStop(t *testing.T) {
	m, err := New(newJobsDB(t), nil, Config{Schedule: "0 3 * * *"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	assert.Len(t, m.cron.Entries(), 1)
	cancel()
	m.Stop() // idempotent with the ctx-triggered stop
}
