package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher runs post-commit side effects on their own goroutines. Errors
// and panics are logged and counted, never returned.
type Dispatcher struct {
	notifier  Notifier
	listeners []ChangeListener
	logger    *logging.Logger
	metrics   *metrics.QueueMetrics
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil notifier disables patient notifications.
func NewDispatcher(notifier Notifier, logger *logging.Logger, m *metrics.QueueMetrics) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		timeout:  defaultDispatchTimeout,
	}
}

// WithTimeout bounds each side effect.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// AddListener registers a change listener. Call before serving traffic.
func (d *Dispatcher) AddListener(l ChangeListener) {
	if l != nil {
		d.listeners = append(d.listeners, l)
	}
}

// Notify delivers n asynchronously.
func (d *Dispatcher) Notify(n Notice) {
	if d == nil || d.notifier == nil {
		return
	}
	d.run(string(n.Kind), func(ctx context.Context) error {
		var err error
		switch n.Kind {
		case NoticeQueued:
			err = d.notifier.NotifyQueued(ctx, n)
		case NoticeFastTracked:
			err = d.notifier.NotifyFastTracked(ctx, n)
		case NoticeCalled:
			err = d.notifier.NotifyCalled(ctx, n)
		default:
			err = fmt.Errorf("queue: unknown notice kind %q", n.Kind)
		}
		d.metrics.ObserveNotification(string(n.Kind), err)
		if err != nil {
			d.logger.Warn("queue: notification failed",
				"kind", n.Kind,
				"clinic_id", n.ClinicID,
				"patient_id", n.PatientID,
				"queue_number", n.QueueNumber,
				"error", err,
			)
		}
		return err
	})
}

// Changed tells listeners that clinicID's queue changed.
func (d *Dispatcher) Changed(clinicID string) {
	if d == nil {
		return
	}
	for _, l := range d.listeners {
		listener := l
		d.run("changed", func(ctx context.Context) error {
			if err := listener.ClinicChanged(ctx, clinicID); err != nil {
				d.logger.Warn("queue: change listener failed", "clinic_id", clinicID, "error", err)
				return err
			}
			return nil
		})
	}
}

// Wait blocks until in-flight side effects finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("queue: side effect panicked", "effect", name, "panic", fmt.Sprint(r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		_ = fn(ctx)
	}()
}
