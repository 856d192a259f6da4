package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/invoice-importer/internal/inventory"
)

// ErrJobNotCompleted is returned when a job's records are requested before it completed
var ErrJobNotCompleted = errors.New("job not completed")

// Queue is woken whenever a job is submitted
type Queue interface {
	Notify()
}

// Service handles extraction job operations
type Service struct {
	store     *Store
	pipeline  *Pipeline
	queue     Queue
	storage   Storage
	inventory inventory.DB
}

// NewService creates a new Service
func NewService(store *Store, pipeline *Pipeline, queue Queue, storage Storage, inv inventory.DB) *Service {
	return &Service{
		store:     store,
		pipeline:  pipeline,
		queue:     queue,
		storage:   storage,
		inventory: inv,
	}
}

// Submit registers an extraction job for a document and hands it to the workers.
// It returns as soon as the job is stored.
func (s *Service) Submit(ownerID, fileName string, data []byte, parserName string) (Job, error) {
	parser, err := s.pipeline.Resolve(parserName)
	if err != nil {
		return Job{}, err
	}

	id, err := s.store.Submit(ownerID, fileName, data, WithParser(parser))
	if err != nil {
		return Job{}, fmt.Errorf("submitting job: %w", err)
	}

	if err := s.storage.Save(DocumentKey(id), data); err != nil {
		// The job still runs from its in-memory payload
		slog.Warn("Failed to archive document", "job", id, "file", fileName, "error", err)
	}

	s.queue.Notify()

	job, ok := s.store.GetJob(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return job, nil
}

// ExtractNow runs the pipeline inline without creating a job and returns the
// result with the name of the parser that produced it
func (s *Service) ExtractNow(ctx context.Context, fileName string, data []byte, parserName string) (*Result, string, error) {
	parser, err := s.pipeline.Resolve(parserName)
	if err != nil {
		return nil, "", err
	}

	result, err := s.pipeline.Run(ctx, data, parser, fileName, nil)
	if err != nil {
		slog.Error("Failed to extract document", "file", fileName, "parser", parser, "error", err)
		return nil, parser, err
	}
	return result, parser, nil
}

// GetJob retrieves a job by ID
func (s *Service) GetJob(id string) (Job, error) {
	job, ok := s.store.GetJob(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return job, nil
}

// GetUserJobs returns an owner's jobs, oldest first
func (s *Service) GetUserJobs(ownerID string) []Job {
	return s.store.GetUserJobs(ownerID)
}

// GetDocument returns the archived document of a job
func (s *Service) GetDocument(id string) ([]byte, error) {
	if _, err := s.GetJob(id); err != nil {
		return nil, err
	}

	data, err := s.storage.Get(DocumentKey(id))
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return data, nil
}

// Import adds a completed job's records to its owner's inventory
func (s *Service) Import(id string) ([]*inventory.Product, error) {
	job, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted || job.Result == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotCompleted, id, job.Status)
	}

	products, err := s.inventory.Import(job.OwnerID, job.ID, job.Result.Products)
	if err != nil {
		return nil, fmt.Errorf("importing records: %w", err)
	}

	slog.Info("Imported records", "job", id, "owner", job.OwnerID, "records", len(job.Result.Products), "products", len(products))
	return products, nil
}

// ListProducts returns an owner's inventory
func (s *Service) ListProducts(ownerID string) ([]*inventory.Product, error) {
	products, err := s.inventory.ListProducts(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}
