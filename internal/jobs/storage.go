package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrDocumentNotFound is returned when no archived document exists for a key
var ErrDocumentNotFound = errors.New("document not found")

// Storage defines the interface for archived document storage
type Storage interface {
	// Save stores data under key
	Save(key string, data []byte) error

	// Get retrieves the data stored under key
	Get(key string) ([]byte, error)

	// Delete removes the data stored under key
	Delete(key string) error
}

// DocumentKey is the storage key of a job's uploaded document
func DocumentKey(jobID string) string {
	return jobID + ".pdf"
}

// DeleteDocumentOnEvict returns a store eviction hook that removes the evicted
// job's archived document
func DeleteDocumentOnEvict(storage Storage) func(Job) {
	return func(job Job) {
		err := storage.Delete(DocumentKey(job.ID))
		if err != nil && !errors.Is(err, ErrDocumentNotFound) {
			slog.Warn("Failed to delete archived document", "job", job.ID, "error", err)
		}
	}
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes data to a file named key
func (l *LocalStorage) Save(key string, data []byte) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Get reads the file named key
func (l *LocalStorage) Get(key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes the file named key
func (l *LocalStorage) Delete(key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// path maps a key to a file inside the base directory. Keys never name directories.
func (l *LocalStorage) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.basePath, key), nil
}
