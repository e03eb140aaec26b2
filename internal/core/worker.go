package core

// worker.go consumes submitted job ids from the queue and drives the
// executors. Each job is one independent background unit of work; batches
// inside a job stay strictly sequential, but several workers may run
// distinct jobs concurrently.

import (
	"context"
	"time"

	"github.com/rejestr/bulkio/internal/logging"
	"github.com/rejestr/bulkio/internal/telemetry"
)

// Worker polls the job queue and executes jobs until its context is
// cancelled.
type Worker struct {
	svc  *Service
	poll time.Duration
}

// NewWorker builds a worker over the service's queue. poll is the idle
// sleep between empty dequeues; zero means one second.
func NewWorker(svc *Service, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{svc: svc, poll: poll}
}

// Run is the worker loop. Start one goroutine per configured worker.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if depth, err := w.svc.queue.Depth(ctx); err == nil {
			telemetry.QueueDepth.Set(float64(depth))
		}

		jobID, err := w.svc.queue.Dequeue(ctx)
		if err != nil {
			log.Warn("dequeue failed", "error", err)
			sleepCtx(ctx, w.poll)
			continue
		}
		if jobID == "" {
			sleepCtx(ctx, w.poll)
			continue
		}

		if err := w.svc.ExecuteJob(ctx, jobID); err != nil {
			log.Error("job execution error", "job_id", jobID, "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
