package queue

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// NextMidnight returns the first midnight in loc strictly after t.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	start := StartOfDay(t, loc)
	local := start.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Boundary is the lower edge of the active queue window.
type Boundary struct {
	At time.Time
	// Stale is set when lastResetAt predates the current day and was replaced
	// by today's start of day.
	Stale bool
}

// WindowStart computes the window boundary for a clinic at now. lastResetAt is
// used as-is while it lies within the current day; an unset or stale value
// falls back to the start of the current day.
func WindowStart(lastResetAt *time.Time, now time.Time, loc *time.Location) Boundary {
	today := StartOfDay(now, loc)
	if lastResetAt == nil {
		return Boundary{At: today}
	}
	if lastResetAt.Before(today) {
		return Boundary{At: today, Stale: true}
	}
	return Boundary{At: *lastResetAt}
}

// DayRange returns the UTC calendar day named by date (yyyy-MM-dd) expressed
// in loc.
func DayRange(date string, loc *time.Location) (Range, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return Range{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	from := day.In(loc)
	return Range{From: from, To: from.Add(24 * time.Hour)}, nil
}
