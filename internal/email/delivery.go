package email

import (
	"context"
	"sync"

	"github.com/babushkafon/auth-api/internal/logging"
)

// Job is one outbound delivery attempt.
type Job func(ctx context.Context) error

// Delivery dispatches mail jobs. Failures are logged and swallowed: delivery
// is fire-and-forget and must never roll back the state change that
// triggered it. The implementation is chosen once, at construction.
type Delivery interface {
	Dispatch(job Job)
}

// SyncDelivery runs jobs inline on the caller's goroutine. Used in
// development and tests where immediate, deterministic delivery matters
// more than request latency.
type SyncDelivery struct {
	logger *logging.Logger
}

func NewSyncDelivery(logger *logging.Logger) *SyncDelivery {
	return &SyncDelivery{logger: logger}
}

func (d *SyncDelivery) Dispatch(job Job) {
	if err := job(context.Background()); err != nil {
		d.logger.Error("mail delivery failed", "error", err.Error())
	}
}

// QueuedDelivery hands jobs to a background worker over a bounded channel.
// A full queue drops the job with a log line instead of blocking the
// request path.
type QueuedDelivery struct {
	jobs   chan Job
	logger *logging.Logger
	wg     sync.WaitGroup
}

func NewQueuedDelivery(size int, logger *logging.Logger) *QueuedDelivery {
	d := &QueuedDelivery{
		jobs:   make(chan Job, size),
		logger: logger,
	}

	d.wg.Add(1)
	go d.worker()

	return d
}

func (d *QueuedDelivery) Dispatch(job Job) {
	select {
	case d.jobs <- job:
	default:
		d.logger.Error("mail queue full, dropping delivery")
	}
}

// Close stops accepting jobs and waits for the worker to drain the queue.
func (d *QueuedDelivery) Close() {
	close(d.jobs)
	d.wg.Wait()
}

func (d *QueuedDelivery) worker() {
	defer d.wg.Done()

	for job := range d.jobs {
		if err := job(context.Background()); err != nil {
			d.logger.Error("mail delivery failed", "error", err.Error())
		}
	}
}
