package quota

import (
	"time"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// NextMonthStart returns midnight on the first day of the month after now,
// evaluated in loc.
func NextMonthStart(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
}

// NextMidnight returns the start of the day after now, evaluated in loc.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

// advance zeroes every window whose reset instant has passed and moves the
// reset instant to the next boundary. It reports whether anything changed.
func advance(w *domain.QuotaWindow, now time.Time, loc *time.Location) bool {
	changed := false
	if w.MonthlyResetAt.IsZero() || !now.Before(w.MonthlyResetAt) {
		w.MonthlyCount = 0
		w.MonthlyResetAt = NextMonthStart(now, loc).UTC()
		changed = true
	}
	if w.DailyResetAt.IsZero() || !now.Before(w.DailyResetAt) {
		w.DailyCount = 0
		w.DailyResetAt = NextMidnight(now, loc).UTC()
		changed = true
	}
	return changed
}
