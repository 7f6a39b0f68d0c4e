package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrRemoteNotConfigured is returned when an upload is attempted
	// without a remote backend.
	ErrRemoteNotConfigured = errors.New("remote storage is not configured")
	// ErrInvalidJobID is returned for job IDs that are not safe path segments.
	ErrInvalidJobID = errors.New("invalid job ID")
)

// LocalStorage implements the Storage interface using local disk.
// It does not support remote uploads unless wrapped by S3Storage or
// MinIOStorage.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, a "productshot" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "productshot")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix; its
// extension is kept so decoders can sniff the container.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	base := filepath.Base(name)
	ext := filepath.Ext(base)
	f, err := os.CreateTemp(s.tempDir, strings.TrimSuffix(base, ext)+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// LoadTemp reads a temporary file and returns a reader.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return f, nil
}

// CleanupTemp removes the specified temporary files, returning the first
// error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// JobDir returns <tempDir>/jobs/<jobID>, creating it if needed.
func (s *LocalStorage) JobDir(jobID string) (string, error) {
	dir, err := s.jobPath(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	return dir, nil
}

// RemoveJobDir deletes the job directory. A missing directory is not an error.
func (s *LocalStorage) RemoveJobDir(jobID string) error {
	dir, err := s.jobPath(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	return nil
}

func (s *LocalStorage) jobPath(jobID string) (string, error) {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return filepath.Join(s.tempDir, "jobs", jobID), nil
}

// Upload is not supported by LocalStorage and returns ErrRemoteNotConfigured.
func (s *LocalStorage) Upload(_ context.Context, _, _ string, _ io.Reader, _ int64) (string, error) {
	return "", ErrRemoteNotConfigured
}

// RemoteEnabled returns false.
func (s *LocalStorage) RemoteEnabled() bool {
	return false
}
