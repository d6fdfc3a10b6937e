package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Deliverer sends a decoded notice.
type Deliverer interface {
	Deliver(ctx context.Context, n queue.Notice) error
}

// Worker consumes notification jobs and delivers them.
type Worker struct {
	jobs      queueClient
	deliverer Deliverer
	logger    *logging.Logger

	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	wg               sync.WaitGroup
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*Worker)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(w *Worker) {
		if count > 0 {
			w.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(w *Worker) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		w.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets the receive batch size, capped at the SQS maximum.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(w *Worker) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		w.receiveBatchSize = size
	}
}

func NewWorker(jobs queueClient, deliverer Deliverer, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if jobs == nil {
		panic("notify: queue cannot be nil")
	}
	if deliverer == nil {
		panic("notify: deliverer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		jobs:             jobs,
		deliverer:        deliverer,
		logger:           logger,
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutines. They stop when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until every consumer has stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.jobs.Receive(ctx, w.receiveBatchSize, w.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive notification jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage delivers one job. Undecodable jobs are dropped; delivery
// failures are left on the queue so SQS redelivers them.
func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	j, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping malformed notification job", "error", err, "message_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if err := w.deliverer.Deliver(ctx, j.Notice); err != nil {
		w.logger.Warn("notification delivery failed, leaving for redelivery",
			"error", err,
			"job_id", j.ID,
			"kind", j.Notice.Kind,
			"clinic_id", j.Notice.ClinicID,
		)
		return
	}
	w.logger.Info("notification delivered", "job_id", j.ID, "kind", j.Notice.Kind, "queue_number", j.Notice.QueueNumber)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.jobs.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete notification job", "error", err)
	}
}
