package notify

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// QueuePublisher hands notices to the notification worker instead of
// delivering them in the API process.
type QueuePublisher struct {
	jobs   queueClient
	logger *logging.Logger
}

func NewQueuePublisher(jobs queueClient, logger *logging.Logger) *QueuePublisher {
	if jobs == nil {
		panic("notify: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueuePublisher{jobs: jobs, logger: logger}
}

func (p *QueuePublisher) NotifyQueued(ctx context.Context, n queue.Notice) error {
	return p.publish(ctx, n)
}

func (p *QueuePublisher) NotifyFastTracked(ctx context.Context, n queue.Notice) error {
	return p.publish(ctx, n)
}

func (p *QueuePublisher) NotifyCalled(ctx context.Context, n queue.Notice) error {
	return p.publish(ctx, n)
}

func (p *QueuePublisher) publish(ctx context.Context, n queue.Notice) error {
	j, body, err := encodeJob(n)
	if err != nil {
		return err
	}
	if err := p.jobs.Send(ctx, body); err != nil {
		return fmt.Errorf("notify: failed to enqueue notice: %w", err)
	}
	p.logger.Debug("notification job enqueued", "job_id", j.ID, "kind", n.Kind, "clinic_id", n.ClinicID)
	return nil
}

var _ queue.Notifier = (*QueuePublisher)(nil)
