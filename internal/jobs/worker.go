package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/invoice-importer/internal/extraction"
)

// Processor handles execution of a claimed job
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// Notifier is told about every job that reaches a terminal state
type Notifier interface {
	Notify(job Job)
}

// LogNotifier reports finished jobs to the log
type LogNotifier struct{}

// Notify logs the job outcome
func (LogNotifier) Notify(job Job) {
	switch job.Status {
	case StatusCompleted:
		count := 0
		if job.Result != nil {
			count = len(job.Result.Products)
		}
		slog.Info("Extraction completed", "job", job.ID, "owner", job.OwnerID, "file", job.SourceName, "products", count)
	case StatusFailed:
		slog.Warn("Extraction failed", "job", job.ID, "owner", job.OwnerID, "file", job.SourceName, "error", job.Error)
	}
}

// Worker runs the extraction pipeline for claimed jobs and records the outcome
type Worker struct {
	store    *Store
	pipeline *Pipeline
	notifier Notifier
}

// NewWorker creates a Worker. A nil notifier logs outcomes.
func NewWorker(store *Store, pipeline *Pipeline, notifier Notifier) *Worker {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Worker{
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
	}
}

// Process extracts a processing job and moves it to completed or failed. Failures
// are recorded on the job and never retried.
func (w *Worker) Process(ctx context.Context, job Job) error {
	result, err := w.pipeline.Run(ctx, job.Payload(), job.Parser, job.SourceName, func(percent int) {
		if err := w.store.ReportProgress(job.ID, percent); err != nil {
			slog.Debug("Dropped job progress", "job", job.ID, "progress", percent, "error", err)
		}
	})

	var (
		finished Job
		advErr   error
	)
	if err != nil {
		finished, advErr = w.store.Advance(job.ID, StatusFailed, Outcome{Err: failureMessage(err)})
	} else {
		finished, advErr = w.store.Advance(job.ID, StatusCompleted, Outcome{Result: result})
	}
	if advErr != nil {
		return advErr
	}

	w.notifier.Notify(finished)
	return nil
}

// failureMessage is the error text stored on a failed job
func failureMessage(err error) string {
	switch {
	case errors.Is(err, extraction.ErrDocumentUnreadable):
		return "Could not read PDF document"
	case errors.Is(err, extraction.ErrUnknownParser):
		return err.Error()
	case errors.Is(err, context.Canceled):
		return "Extraction cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Extraction timed out"
	default:
		return err.Error()
	}
}

// defaultClaimInterval bounds how long a pending job waits when its wake-up
// was dropped because every worker was busy
const defaultClaimInterval = 5 * time.Second

// WorkerPool gives claimed jobs to a Processor with bounded concurrency. Jobs
// are claimed from the Store in submission order, so each pending job reaches
// exactly one worker.
type WorkerPool struct {
	store         *Store
	processor     Processor
	size          int
	wake          chan struct{}
	claimInterval time.Duration
}

// NewWorkerPool creates a pool of size workers. A non-positive size runs one.
func NewWorkerPool(store *Store, processor Processor, size int) *WorkerPool {
	size = max(size, 1)
	return &WorkerPool{
		store:         store,
		processor:     processor,
		size:          size,
		wake:          make(chan struct{}, size),
		claimInterval: defaultClaimInterval,
	}
}

// Notify tells the pool a job was submitted. It never blocks; when every
// worker is already awake the signal is dropped.
func (wp *WorkerPool) Notify() {
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

// Run processes jobs until ctx is cancelled. It returns once every in-flight
// job has been recorded.
func (wp *WorkerPool) Run(ctx context.Context) {
	slog.Info("Starting extraction workers", "workers", wp.size)

	var wg sync.WaitGroup
	wg.Add(wp.size)
	for n := range wp.size {
		go func() {
			defer wg.Done()
			wp.work(ctx, n)
		}()
	}
	wg.Wait()

	slog.Info("Extraction workers stopped")
}

// work empties the pending queue, then sleeps until woken or the claim
// interval elapses
func (wp *WorkerPool) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(wp.claimInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil && wp.processNext(ctx, worker) {
		}

		select {
		case <-ctx.Done():
			return
		case <-wp.wake:
		case <-ticker.C:
		}
	}
}

// processNext claims the oldest pending job and hands it to the processor. It
// reports false when nothing is pending.
func (wp *WorkerPool) processNext(ctx context.Context, worker int) bool {
	job, ok := wp.store.ClaimPending()
	if !ok {
		return false
	}

	slog.Info("Claimed job", "worker", worker, "job", job.ID, "owner", job.OwnerID,
		"file", job.SourceName, "parser", job.Parser, "queued_for", job.UpdatedAt.Sub(job.CreatedAt))

	started := time.Now()
	if err := wp.processor.Process(ctx, job); err != nil {
		slog.Error("Job outcome not recorded", "worker", worker, "job", job.ID, "error", err)
		return true
	}
	slog.Debug("Job processed", "worker", worker, "job", job.ID, "elapsed", time.Since(started))
	return true
}
