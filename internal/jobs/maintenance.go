// Package jobs runs periodic housekeeping on a cron schedule: expired
// idempotency records are purged and elapsed quota windows are reset in bulk.
// Both are safe to skip; the request path already treats expired rows as
// absent and resets windows lazily.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/internal/repo"
)

// QuotaSweeper resets elapsed quota windows in bulk.
type QuotaSweeper interface {
	SweepExpired(ctx context.Context, now time.Time, loc *time.Location) (int64, error)
}

// Config controls the maintenance schedule.
type Config struct {
	// Schedule is a standard 5-field cron spec. Defaults to every 15 minutes.
	Schedule string
	// Timeout bounds one run. Defaults to one minute.
	Timeout  time.Duration
	Location *time.Location
}

// Summary reports what one run did.
type Summary struct {
	IdempotencyPurged int64
	QuotaWindowsReset int64
	Duration          time.Duration
}

// Maintenance owns the cron scheduler.
type Maintenance struct {
	db      *gorm.DB
	sweeper QuotaSweeper
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger

	cron     *cron.Cron
	stopOnce sync.Once
}

// New builds a Maintenance runner. sweeper may be nil when the quota backend
// does not persist windows in SQL.
func New(db *gorm.DB, sweeper QuotaSweeper, cfg Config) (*Maintenance, error) {
	if db == nil {
		return nil, errors.New("jobs: nil db")
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "*/15 * * * *"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	m := &Maintenance{
		db:      db,
		sweeper: sweeper,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With().Str("component", "maintenance").Logger(),
	}

	cl := cronLogger{l: m.logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	m.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := m.cron.AddFunc(cfg.Schedule, m.tick); err != nil {
		return nil, fmt.Errorf("jobs: schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// Start launches the scheduler and stops it when ctx is done.
func (m *Maintenance) Start(ctx context.Context) {
	m.cron.Start()
	m.logger.Info().Str("schedule", m.cfg.Schedule).Msg("maintenance scheduled")
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
}

// Stop halts the scheduler and waits for a running job. Safe to call twice.
func (m *Maintenance) Stop() {
	m.stopOnce.Do(func() {
		<-m.cron.Stop().Done()
	})
}

func (m *Maintenance) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()
	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Error().Err(err).Msg("maintenance run failed")
	}
}

// RunOnce performs one maintenance pass. Both steps run even if the first
// fails; the errors are joined.
func (m *Maintenance) RunOnce(ctx context.Context) (Summary, error) {
	start := m.now()
	now := start.UTC()
	var s Summary
	var errs []error

	n, err := repo.PurgeExpiredIdempotency(ctx, m.db, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge idempotency: %w", err))
	}
	s.IdempotencyPurged = n

	if m.sweeper != nil {
		n, err = m.sweeper.SweepExpired(ctx, now, m.cfg.Location)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep quota windows: %w", err))
		}
		s.QuotaWindowsReset = n
	}

	s.Duration = m.now().Sub(start)
	runs.Inc()
	purged.Add(float64(s.IdempotencyPurged))
	swept.Add(float64(s.QuotaWindowsReset))

	m.logger.Info().
		Int64("idempotency_purged", s.IdempotencyPurged).
		Int64("quota_windows_reset", s.QuotaWindowsReset).
		Dur("duration", s.Duration).
		Msg("maintenance run")
	return s, errors.Join(errs...)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}
