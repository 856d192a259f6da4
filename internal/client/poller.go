package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how often a job is queried when no interval is given
const DefaultPollInterval = 3 * time.Second

// StatusFetcher fetches the current state of a job
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*JobStatus, error)
}

// Notifier is told when a watched job finishes. A Poller never calls it
// concurrently, even from TrackAll.
type Notifier interface {
	// Completed is called with a job that finished successfully
	Completed(job *JobStatus)

	// Failed is called with the error message of a job that failed or vanished
	Failed(jobID, message string)
}

// LogNotifier reports finished jobs to the log
type LogNotifier struct{}

// Completed logs the number of records found
func (LogNotifier) Completed(job *JobStatus) {
	count := 0
	if job.Result != nil {
		count = len(job.Result.Products)
	}
	slog.Info("Extraction completed", "job", job.ID, "file", job.FileName, "products", count)
}

// Failed logs the failure message
func (LogNotifier) Failed(jobID, message string) {
	slog.Warn("Extraction failed", "job", jobID, "error", message)
}

// Poller watches jobs until they reach a terminal state
type Poller struct {
	fetcher  StatusFetcher
	notifier Notifier
	interval time.Duration

	notifyMu sync.Mutex // Serializes notifier calls
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval and
// a nil notifier logs outcomes.
func NewPoller(fetcher StatusFetcher, notifier Notifier, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Poller{
		fetcher:  fetcher,
		notifier: notifier,
		interval: interval,
	}
}

// Watch queries a job every interval until it completes or fails, notifies the
// outcome once and returns the final state. The first query happens one interval
// after the call. Transient errors are logged and polling continues; an unknown
// job is reported as a failure. Cancelling ctx stops watching without a
// notification.
func (p *Poller) Watch(ctx context.Context, jobID string) (*JobStatus, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		job, err := p.fetcher.Status(ctx, jobID)
		if errors.Is(err, ErrJobNotFound) {
			p.failed(jobID, "Job not found")
			return nil, err
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Error polling job status", "job", jobID, "error", err)
			continue
		}

		switch job.Status {
		case StatusCompleted:
			p.completed(job)
			return job, nil
		case StatusFailed:
			p.failed(jobID, job.Error)
			return job, nil
		}
		slog.Debug("Job still running", "job", jobID, "status", job.Status, "progress", job.Progress)
	}
}

func (p *Poller) completed(job *JobStatus) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	p.notifier.Completed(job)
}

func (p *Poller) failed(jobID, message string) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	p.notifier.Failed(jobID, message)
}

// TrackAll watches several jobs independently and returns their final states in
// the order given. A job that cannot be watched leaves a nil entry; the first
// such error is returned after every job has finished.
func (p *Poller) TrackAll(ctx context.Context, jobIDs ...string) ([]*JobStatus, error) {
	results := make([]*JobStatus, len(jobIDs))

	var g errgroup.Group
	for i, id := range jobIDs {
		g.Go(func() error {
			job, err := p.Watch(ctx, id)
			results[i] = job
			return err
		})
	}
	err := g.Wait()
	return results, err
}
