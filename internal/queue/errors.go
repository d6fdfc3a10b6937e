package queue

import "errors"

var (
	ErrNotFound             = errors.New("queue: not found")
	ErrPreviousNotCompleted = errors.New("queue: previous patient not yet completed")
	ErrQueueBusy            = errors.New("queue: queue busy, try again")
	ErrFastTrackLimit       = errors.New("queue: fast-track limit reached for entry")
	ErrInvalidTransition    = errors.New("queue: invalid status transition")
	ErrEmptyQueue           = errors.New("queue: no patients waiting")
	ErrInvalidInput         = errors.New("queue: invalid input")
)

// Kind groups errors into the categories callers act on.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindEmptyQueue
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindEmptyQueue:
		return "empty_queue"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPreviousNotCompleted),
		errors.Is(err, ErrQueueBusy),
		errors.Is(err, ErrFastTrackLimit),
		errors.Is(err, ErrInvalidTransition):
		return KindConflict
	case errors.Is(err, ErrEmptyQueue):
		return KindEmptyQueue
	case errors.Is(err, ErrInvalidInput):
		return KindInvalid
	default:
		return KindInternal
	}
}

// Code is a stable machine-readable code for err, used in API error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPreviousNotCompleted):
		return "previous_not_completed"
	case errors.Is(err, ErrQueueBusy):
		return "queue_busy"
	case errors.Is(err, ErrFastTrackLimit):
		return "fast_track_limit"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrEmptyQueue):
		return "empty_queue"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
