package usage

import (
	"context"
	"errors"
	"time"
)

var ErrWindowNotFound = errors.New("usage window not found")

// Window tracks how many analyses an account has consumed in the current
// calendar week and month. A fresh row is created lazily on the first request
// of a window; the counters reset implicitly because a new (weekStart,
// monthStart) key selects a new row. Counts only ever increase within a row's
// lifetime.
type Window struct {
	ID           string
	AccountID    string
	WeekStart    time.Time
	MonthStart   time.Time
	WeeklyCount  int
	MonthlyCount int
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

type Store interface {
	// GetOrCreate returns the live window for the key, inserting a zero-count
	// row if none exists. Concurrent first requests of a window must resolve
	// to the same row (insert-on-conflict falling back to read).
	GetOrCreate(ctx context.Context, accountID string, weekStart, monthStart time.Time) (*Window, error)
	// Get returns ErrWindowNotFound when no request has been made this window.
	Get(ctx context.Context, accountID string, weekStart, monthStart time.Time) (*Window, error)
	IncrementWeekly(ctx context.Context, windowID string, now time.Time) error
	IncrementMonthly(ctx context.Context, windowID string, now time.Time) error
}

// WeekStart returns the most recent Sunday 00:00 UTC at or before now.
func WeekStart(now time.Time) time.Time {
	d := now.UTC()
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// MonthStart returns the first day of the current month, 00:00 UTC.
func MonthStart(now time.Time) time.Time {
	d := now.UTC()
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}
