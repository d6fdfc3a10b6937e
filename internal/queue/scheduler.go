package queue

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Resetter performs the daily reset.
type Resetter interface {
	ResetDaily(ctx context.Context, now time.Time) (ResetResult, error)
}

// ResetHook runs after a successful reset, e.g. to archive the closed day.
// Hook failures are logged only.
type ResetHook interface {
	AfterReset(ctx context.Context, res ResetResult) error
}

// ResetScheduler fires the daily reset at local midnight.
type ResetScheduler struct {
	resetter      Resetter
	clock         Clock
	loc           *time.Location
	logger        *logging.Logger
	retryInterval time.Duration
	hooks         []ResetHook
	after         func(time.Duration) <-chan time.Time
}

func NewResetScheduler(resetter Resetter, loc *time.Location, logger *logging.Logger) *ResetScheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ResetScheduler{
		resetter:      resetter,
		clock:         SystemClock{},
		loc:           loc,
		logger:        logger,
		retryInterval: time.Minute,
		after:         time.After,
	}
}

func (s *ResetScheduler) WithClock(c Clock) *ResetScheduler {
	if c != nil {
		s.clock = c
	}
	return s
}

func (s *ResetScheduler) WithRetryInterval(d time.Duration) *ResetScheduler {
	if d > 0 {
		s.retryInterval = d
	}
	return s
}

func (s *ResetScheduler) WithHook(h ResetHook) *ResetScheduler {
	if h != nil {
		s.hooks = append(s.hooks, h)
	}
	return s
}

// Run blocks until ctx is done, resetting once per day at midnight.
func (s *ResetScheduler) Run(ctx context.Context) {
	s.logger.Info("queue: reset scheduler started", "timezone", s.loc.String())
	for {
		now := s.clock.Now()
		wait := NextMidnight(now, s.loc).Sub(now)
		select {
		case <-ctx.Done():
			s.logger.Info("queue: reset scheduler stopped")
			return
		case <-s.after(wait):
		}
		s.fireWithRetry(ctx)
	}
}

// RunOnce resets now and runs the hooks.
func (s *ResetScheduler) RunOnce(ctx context.Context) (ResetResult, error) {
	res, err := s.resetter.ResetDaily(ctx, s.clock.Now())
	if err != nil {
		return ResetResult{}, err
	}
	for _, h := range s.hooks {
		if err := h.AfterReset(ctx, res); err != nil {
			s.logger.Warn("queue: reset hook failed", "error", err)
		}
	}
	return res, nil
}

// fireWithRetry keeps retrying a failed reset until it succeeds, the day
// rolls over or ctx ends. A missed day is covered by the stale boundary fallback.
func (s *ResetScheduler) fireWithRetry(ctx context.Context) {
	day := StartOfDay(s.clock.Now(), s.loc)
	for attempt := 1; ; attempt++ {
		_, err := s.RunOnce(ctx)
		if err == nil {
			return
		}
		s.logger.Error("queue: daily reset failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-s.after(s.retryInterval):
		}
		if !StartOfDay(s.clock.Now(), s.loc).Equal(day) {
			s.logger.Warn("queue: giving up on missed reset, day rolled over", "day", day)
			return
		}
	}
}
