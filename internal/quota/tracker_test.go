package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTracker(store Store, limits Limits, clock *fakeClock) *Tracker {
	return NewTracker(store, limits, WithClock(clock.Now), WithLogger(zerolog.Nop()))
}

func TestReserve_IncrementsBothWindows(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, Limits{Monthly: 5, Daily: 3}, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := tr.Reserve(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, tr.Commit(ctx, r.Token))
	}

	w, found, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, w.MonthlyCount)
	assert.Equal(t, 3, w.DailyCount)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), w.MonthlyResetAt)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), w.DailyResetAt)
	assert.Equal(t, 0, tr.Pending())

	_, err = tr.Reserve(ctx, "u1")
	var qe *domain.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, domain.QuotaScopeDaily, qe.Scope)
	assert.Equal(t, 3, qe.Limit)
	assert.Equal(t, w.DailyResetAt, qe.ResetAt)
}

func TestReserveN_PreflightDeniesWithoutPartialReservation(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(domain.QuotaWindow{
		UserID:         "u1",
		MonthlyCount:   4,
		MonthlyLimit:   5,
		MonthlyResetAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		DailyLimit:     10,
		DailyResetAt:   time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
	})
	tr := newTracker(store, Limits{Monthly: 100, Daily: 100}, clock)

	_, err := tr.ReserveN(context.Background(), "u1", 2)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	var qe *domain.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, domain.QuotaScopeMonthly, qe.Scope)
	assert.Equal(t, 1, qe.Remaining)
	assert.Equal(t, 2, qe.Requested)

	w, _, _ := store.Get(context.Background(), "u1")
	assert.Equal(t, 4, w.MonthlyCount)
	assert.Equal(t, 0, w.DailyCount)
	assert.Equal(t, 0, tr.Pending())
}

func TestReserve_LazyResetAfterBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, Limits{Monthly: 2, Daily: 2}, clock)
	ctx := context.Background()

	_, err := tr.ReserveN(ctx, "u1", 2)
	require.NoError(t, err)
	_, err = tr.Reserve(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	// Crossing midnight on the last day of the month resets both windows.
	clock.Set(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	r, err := tr.Reserve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), r.MonthlyResetAt)
	assert.Equal(t, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), r.DailyResetAt)

	w, _, _ := store.Get(ctx, "u1")
	assert.Equal(t, 1, w.MonthlyCount)
	assert.Equal(t, 1, w.DailyCount)
}

func TestReserve_DailyResetKeepsMonthlyCount(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 10, 20, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, Limits{Monthly: 10, Daily: 1}, clock)
	ctx := context.Background()

	_, err := tr.Reserve(ctx, "u1")
	require.NoError(t, err)
	_, err = tr.Reserve(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	clock.Set(time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC))
	_, err = tr.Reserve(ctx, "u1")
	require.NoError(t, err)

	w, _, _ := store.Get(ctx, "u1")
	assert.Equal(t, 2, w.MonthlyCount)
	assert.Equal(t, 1, w.DailyCount)
}

func TestRelease_DecrementsAndSettlesToken(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, Limits{Monthly: 3, Daily: 3}, clock)
	ctx := context.Background()

	r, err := tr.Reserve(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, tr.Release(ctx, r.Token))

	w, _, _ := store.Get(ctx, "u1")
	assert.Equal(t, 0, w.MonthlyCount)
	assert.Equal(t, 0, w.DailyCount)

	assert.ErrorIs(t, tr.Release(ctx, r.Token), ErrUnknownReservation)
	assert.ErrorIs(t, tr.Commit(ctx, r.Token), ErrUnknownReservation)
}

func TestRelease_AfterDailyRolloverOnlyTouchesMonthly(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 10, 23, 59, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, Limits{Monthly: 10, Daily: 10}, clock)
	ctx := context.Background()

	stale, err := tr.Reserve(ctx, "u1")
	require.NoError(t, err)

	clock.Set(time.Date(2026, 5, 11, 0, 1, 0, 0, time.UTC))
	_, err = tr.Reserve(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, tr.Release(ctx, stale.Token))
	w, _, _ := store.Get(ctx, "u1")
	assert.Equal(t, 1, w.MonthlyCount)
	assert.Equal(t, 1, w.DailyCount, "new daily window must not lose the fresh reservation")
}

func TestReserve_ConcurrentNeverOvershoots(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := newTracker(store, Limits{Monthly: 10, Daily: 50}, clock)
	ctx := context.Background()

	var granted, denied int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Reserve(ctx, "u1"); err == nil {
				atomic.AddInt64(&granted, 1)
			} else if errors.Is(err, domain.ErrQuotaExceeded) {
				atomic.AddInt64(&denied, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, granted)
	assert.EqualValues(t, 54, denied)
	w, _, _ := store.Get(ctx, "u1")
	assert.Equal(t, 10, w.MonthlyCount)
	assert.LessOrEqual(t, w.MonthlyCount, w.MonthlyLimit)
}

func TestReserve_Validation(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), Limits{Monthly: 1, Daily: 1})
	_, err := tr.Reserve(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = tr.ReserveN(context.Background(), "u1", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatus_ReportsLazyResetWithoutWriting(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Put(domain.QuotaWindow{
		UserID:         "u1",
		MonthlyCount:   7,
		MonthlyLimit:   10,
		MonthlyResetAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		DailyCount:     4,
		DailyLimit:     5,
		DailyResetAt:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), // already elapsed
	})
	tr := newTracker(store, Limits{Monthly: 10, Daily: 5}, clock)

	st, err := tr.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, WindowStatus{Used: 7, Limit: 10, Remaining: 3, ResetAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}, st.Monthly)
	assert.Equal(t, 0, st.Daily.Used)
	assert.Equal(t, 5, st.Daily.Remaining)
	assert.Equal(t, 3, st.Remaining())

	w, _, _ := store.Get(context.Background(), "u1")
	assert.Equal(t, 4, w.DailyCount, "Status must not persist the reset")

	fresh, err := tr.Status(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 10, fresh.Monthly.Remaining)
	assert.Equal(t, 5, fresh.Daily.Limit)
}

func TestWindowBoundaries(t *testing.T) {
	dec := time.Date(2026, 12, 31, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), NextMonthStart(dec, time.UTC))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), NextMidnight(dec, time.UTC))

	jakarta := time.FixedZone("WIB", 7*3600)
	// 18:00 UTC is already 01:00 the next day in UTC+7.
	at := time.Date(2026, 6, 30, 18, 0, 0, 0, time.UTC)
	assert.True(t, NextMidnight(at, jakarta).Equal(time.Date(2026, 7, 2, 0, 0, 0, 0, jakarta)))
	assert.True(t, NextMonthStart(at, jakarta).Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, jakarta)))
}
