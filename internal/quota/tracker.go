// Package quota meters generation requests against per-user monthly and daily
// windows. Reservation is pessimistic: counters are incremented when a unit is
// reserved and decremented again only when the caller releases it, so
// concurrent batch items can never push a window past its limit.
//
// Windows reset lazily. Any access made at or after a window's reset instant
// zeroes that window and moves the instant to the next boundary (midnight for
// the daily window, the first day of the next month for the monthly one).
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// ErrUnknownReservation is returned by Commit and Release for tokens that
// were never issued or were already settled.
var ErrUnknownReservation = errors.New("quota: unknown or settled reservation")

// Limits is the default policy applied to windows that carry no limit.
type Limits struct {
	Monthly int
	Daily   int
}

// Reservation is one reserved unit of quota.
type Reservation struct {
	Token          string    `json:"token"`
	UserID         string    `json:"user_id"`
	ReservedAt     time.Time `json:"reserved_at"`
	MonthlyResetAt time.Time `json:"monthly_reset_at"`
	DailyResetAt   time.Time `json:"daily_reset_at"`
}

// WindowStatus is a read-only view of one window.
type WindowStatus struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Status is a snapshot of both windows for a user.
type Status struct {
	UserID  string       `json:"user_id"`
	Monthly WindowStatus `json:"monthly"`
	Daily   WindowStatus `json:"daily"`
}

// Remaining is the number of units the user can still reserve right now.
func (s Status) Remaining() int {
	if s.Daily.Remaining < s.Monthly.Remaining {
		return s.Daily.Remaining
	}
	return s.Monthly.Remaining
}

// Tracker is the admission-control component. It is safe for concurrent use.
type Tracker struct {
	store  Store
	limits Limits
	now    func() time.Time
	loc    *time.Location
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]Reservation
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLocation sets the time zone in which window boundaries are computed.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithLogger sets the logger used for denials and releases.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker builds a Tracker over store with the given default limits.
func NewTracker(store Store, limits Limits, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		limits:  limits,
		now:     time.Now,
		loc:     time.UTC,
		logger:  log.Logger,
		pending: make(map[string]Reservation),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Limits returns the default policy.
func (t *Tracker) Limits() Limits { return t.limits }

// Reserve reserves a single unit for userID.
func (t *Tracker) Reserve(ctx context.Context, userID string) (Reservation, error) {
	rs, err := t.ReserveN(ctx, userID, 1)
	if err != nil {
		return Reservation{}, err
	}
	return rs[0], nil
}

// ReserveN reserves n units atomically: either all n are granted or none
// are and a *domain.QuotaExceededError describes the binding window.
// The monthly window is checked before the daily one.
func (t *Tracker) ReserveN(ctx context.Context, userID string, n int) ([]Reservation, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if n <= 0 {
		return nil, domain.NewValidationError("count", "must be positive")
	}
	now := t.now().UTC()

	w, err := t.store.Update(ctx, userID, func(w *domain.QuotaWindow, found bool) error {
		t.prepare(w, now)
		if qe := t.check(*w, n); qe != nil {
			return qe
		}
		w.MonthlyCount += n
		w.DailyCount += n
		return nil
	})
	if err != nil {
		var qe *domain.QuotaExceededError
		if errors.As(err, &qe) {
			denials.WithLabelValues(string(qe.Scope)).Inc()
			t.logger.Info().
				Str("user_id", userID).
				Str("scope", string(qe.Scope)).
				Int("limit", qe.Limit).
				Int("remaining", qe.Remaining).
				Int("requested", n).
				Msg("quota: reservation denied")
		}
		return nil, err
	}

	out := make([]Reservation, n)
	t.mu.Lock()
	for i := range out {
		r := Reservation{
			Token:          uuid.NewString(),
			UserID:         userID,
			ReservedAt:     now,
			MonthlyResetAt: w.MonthlyResetAt,
			DailyResetAt:   w.DailyResetAt,
		}
		t.pending[r.Token] = r
		out[i] = r
	}
	t.mu.Unlock()
	reservations.Add(float64(n))
	return out, nil
}

// Commit confirms a reservation. Counters were applied at Reserve time, so
// this only settles the token.
func (t *Tracker) Commit(_ context.Context, token string) error {
	_, err := t.take(token)
	return err
}

// Release returns a reserved unit. Counters are decremented only for windows
// that have not reset since the reservation was made; a unit reserved in a
// window that already rolled over is simply dropped.
func (t *Tracker) Release(ctx context.Context, token string) error {
	r, err := t.take(token)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	_, err = t.store.Update(ctx, r.UserID, func(w *domain.QuotaWindow, found bool) error {
		if !found {
			return nil
		}
		t.prepare(w, now)
		if w.MonthlyResetAt.Equal(r.MonthlyResetAt) && w.MonthlyCount > 0 {
			w.MonthlyCount--
		}
		if w.DailyResetAt.Equal(r.DailyResetAt) && w.DailyCount > 0 {
			w.DailyCount--
		}
		return nil
	})
	if err != nil {
		// Keep the token so the caller may retry the release.
		t.mu.Lock()
		t.pending[token] = r
		t.mu.Unlock()
		return err
	}
	releases.Inc()
	return nil
}

// Status returns the current window snapshot for userID. Elapsed windows are
// reported as reset without writing to the store.
func (t *Tracker) Status(ctx context.Context, userID string) (Status, error) {
	w, found, err := t.store.Get(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if !found {
		w = domain.QuotaWindow{UserID: userID}
	}
	t.prepare(&w, t.now().UTC())
	return Status{
		UserID: userID,
		Monthly: WindowStatus{
			Used:      w.MonthlyCount,
			Limit:     w.MonthlyLimit,
			Remaining: w.MonthlyRemaining(),
			ResetAt:   w.MonthlyResetAt,
		},
		Daily: WindowStatus{
			Used:      w.DailyCount,
			Limit:     w.DailyLimit,
			Remaining: w.DailyRemaining(),
			ResetAt:   w.DailyResetAt,
		},
	}, nil
}

// Pending reports how many reservations are neither committed nor released.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) prepare(w *domain.QuotaWindow, now time.Time) {
	if w.MonthlyLimit <= 0 {
		w.MonthlyLimit = t.limits.Monthly
	}
	if w.DailyLimit <= 0 {
		w.DailyLimit = t.limits.Daily
	}
	advance(w, now, t.loc)
}

func (t *Tracker) check(w domain.QuotaWindow, n int) *domain.QuotaExceededError {
	if rem := w.MonthlyRemaining(); n > rem {
		return &domain.QuotaExceededError{
			Scope:     domain.QuotaScopeMonthly,
			Limit:     w.MonthlyLimit,
			Used:      w.MonthlyCount,
			Remaining: rem,
			Requested: n,
			ResetAt:   w.MonthlyResetAt,
		}
	}
	if rem := w.DailyRemaining(); n > rem {
		return &domain.QuotaExceededError{
			Scope:     domain.QuotaScopeDaily,
			Limit:     w.DailyLimit,
			Used:      w.DailyCount,
			Remaining: rem,
			Requested: n,
			ResetAt:   w.DailyResetAt,
		}
	}
	return nil
}

func (t *Tracker) take(token string) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.pending[token]
	if !ok {
		return Reservation{}, ErrUnknownReservation
	}
	delete(t.pending, token)
	return r, nil
}
