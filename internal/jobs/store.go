package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-importer/internal/extraction"
)

var (
	// ErrUnknownJob is returned for job ids the store never issued or has evicted
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidTransition is returned when a transition is not allowed by the state machine
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrStoreClosed is returned by Submit after Close
	ErrStoreClosed = errors.New("job store closed")
)

const (
	defaultTTL     = time.Hour
	defaultMaxJobs = 1000
)

// IDGenerator generates unique IDs for jobs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates pdf_ prefixed random IDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return "pdf_" + uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithTTL sets how long terminal jobs are kept after their last update. Zero
// keeps them until capacity eviction.
func WithTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.ttl = d
		}
	}
}

// WithMaxJobs bounds the number of stored jobs. Zero means unlimited.
func WithMaxJobs(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.maxJobs = n
		}
	}
}

// WithIDGenerator replaces the job ID generator
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) {
		s.ids = g
	}
}

// WithTimeSource replaces the clock
func WithTimeSource(t TimeSource) StoreOption {
	return func(s *Store) {
		s.clock = t
	}
}

// WithEvictHook registers a function called with every evicted job
func WithEvictHook(fn func(Job)) StoreOption {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// Store is the in-memory registry of extraction jobs. All mutations go through
// Submit and Advance, which hold the store lock, so a job never has more than
// one transition in flight.
//
// Retention: terminal jobs are evicted ttl after their last update, and when
// the store holds more than maxJobs the oldest terminal jobs go first. Pending
// and processing jobs are never evicted.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	seq     uint64
	ttl     time.Duration
	maxJobs int
	ids     IDGenerator
	clock   TimeSource
	onEvict func(Job)
	pending []string // Submission-ordered ids awaiting a worker
	closed  bool
	done    chan struct{}
}

// NewStore creates an empty Store
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:    make(map[string]*Job),
		ttl:     defaultTTL,
		maxJobs: defaultMaxJobs,
		ids:     &uuidGenerator{},
		clock:   &defaultTimeSource{},
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitOption configures a submitted job
type SubmitOption func(*Job)

// WithParser records the parser the worker must use for the job
func WithParser(name string) SubmitOption {
	return func(j *Job) {
		j.Parser = name
	}
}

// Submit registers a pending job and returns its ID. It never waits for
// extraction.
func (s *Store) Submit(ownerID, sourceName string, payload []byte, opts ...SubmitOption) (string, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return "", ErrStoreClosed
	}

	id := s.ids.Generate()
	if _, dup := s.jobs[id]; dup {
		s.mu.Unlock()
		return "", fmt.Errorf("generated duplicate job id %s", id)
	}

	now := s.clock.Now()
	s.seq++
	job := &Job{
		ID:         id,
		OwnerID:    ownerID,
		SourceName: sourceName,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		payload:    payload,
		seq:        s.seq,
	}
	for _, o := range opts {
		o(job)
	}
	s.jobs[id] = job
	s.pending = append(s.pending, id)

	evicted := s.enforceCapacity()
	s.mu.Unlock()

	s.evicted(evicted)
	return id, nil
}

// Advance moves a job to next and records the outcome. A completed job keeps only
// the result and a failed job only the error message.
func (s *Store) Advance(id string, next Status, outcome Outcome) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advance(id, next, outcome)
}

// ClaimPending moves the oldest pending job to processing and returns it with its
// payload. It returns false when no job is waiting.
func (s *Store) ClaimPending() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]

		job, ok := s.jobs[id]
		if !ok || job.Status != StatusPending {
			continue
		}
		claimed, err := s.advance(id, StatusProcessing, Outcome{})
		if err != nil {
			continue
		}
		return claimed, true
	}
	return Job{}, false
}

// advance applies a transition.
// Must be called with lock held
func (s *Store) advance(id string, next Status, outcome Outcome) (Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if !job.Status.canAdvance(next) {
		slog.Error("Rejected job transition", "job", id, "from", job.Status, "to", next)
		return Job{}, fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidTransition, job.Status, next, id)
	}

	now := s.clock.Now()
	job.Status = next
	job.UpdatedAt = now

	switch next {
	case StatusProcessing:
		job.Progress = progressClaimed
	case StatusCompleted:
		result := &Result{}
		if outcome.Result != nil {
			result = outcome.Result.clone()
		}
		if result.Products == nil {
			result.Products = []extraction.Record{}
		}
		job.Result = result
		job.Error = ""
		job.Progress = progressDone
	case StatusFailed:
		job.Result = nil
		job.Error = outcome.Err
		if job.Error == "" {
			job.Error = "unknown error"
		}
	}

	if next.Terminal() {
		job.payload = nil
		job.CompletedAt = &now
	}

	return job.snapshot(), nil
}

// ReportProgress raises the progress of a processing job. Values at or below the
// current progress are ignored, and only completion reaches 100.
func (s *Store) ReportProgress(id string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if job.Status != StatusProcessing {
		return fmt.Errorf("%w: progress on %s job %s", ErrInvalidTransition, job.Status, id)
	}

	percent = min(percent, progressDone-1)
	if percent <= job.Progress {
		return nil
	}
	job.Progress = percent
	job.UpdatedAt = s.clock.Now()
	return nil
}

// GetJob returns a copy of the job with the given ID
func (s *Store) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// GetUserJobs returns an owner's jobs, oldest first. Jobs created at the same
// instant keep submission order.
func (s *Store) GetUserJobs(ownerID string) []Job {
	s.mu.RLock()
	result := make([]Job, 0)
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			result = append(result, job.snapshot())
		}
	}
	s.mu.RUnlock()

	sortOldestFirst(result)
	return result
}

// Sweep evicts expired and surplus terminal jobs and returns how many were removed
func (s *Store) Sweep() int {
	s.mu.Lock()
	evicted := s.expire()
	evicted = append(evicted, s.enforceCapacity()...)
	s.mu.Unlock()

	s.evicted(evicted)
	return len(evicted)
}

// Run sweeps the store every interval until ctx is cancelled or the store is closed
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("Evicted expired jobs", "count", n)
			}
		}
	}
}

// Close stops accepting submissions and stops Run. Stored jobs stay readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Count returns the number of stored jobs
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// expire removes terminal jobs older than the TTL.
// Must be called with lock held
func (s *Store) expire() []Job {
	if s.ttl <= 0 {
		return nil
	}
	now := s.clock.Now()
	var evicted []Job
	for id, job := range s.jobs {
		if job.Status.Terminal() && now.Sub(job.UpdatedAt) >= s.ttl {
			evicted = append(evicted, job.snapshot())
			delete(s.jobs, id)
		}
	}
	return evicted
}

// enforceCapacity removes the oldest terminal jobs while the store is over capacity.
// Must be called with lock held
func (s *Store) enforceCapacity() []Job {
	if s.maxJobs <= 0 || len(s.jobs) <= s.maxJobs {
		return nil
	}

	terminal := make([]Job, 0)
	for _, job := range s.jobs {
		if job.Status.Terminal() {
			terminal = append(terminal, job.snapshot())
		}
	}
	sortOldestFirst(terminal)

	var evicted []Job
	for _, job := range terminal {
		if len(s.jobs) <= s.maxJobs {
			break
		}
		delete(s.jobs, job.ID)
		evicted = append(evicted, job)
	}
	return evicted
}

// evicted reports removed jobs to the hook. Must be called without the lock.
func (s *Store) evicted(jobs []Job) {
	for _, job := range jobs {
		slog.Debug("Evicted job", "job", job.ID, "status", job.Status, "updated_at", job.UpdatedAt)
		if s.onEvict != nil {
			s.onEvict(job)
		}
	}
}

// snapshot copies the job so callers never share its mutable fields
func (j *Job) snapshot() Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		c.Result = j.Result.clone()
	}
	return c
}

func (r *Result) clone() *Result {
	c := *r
	if r.Products != nil {
		c.Products = slices.Clone(r.Products)
	}
	return &c
}

func sortOldestFirst(jobs []Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].seq < jobs[k].seq
	})
}
