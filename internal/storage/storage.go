// Package storage keeps uploaded inputs and produced artifacts on local
// disk and optionally publishes artifacts to S3 or MinIO.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
)

// Storage defines the interface for job file storage.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// JobDir returns a directory private to the job, creating it if needed.
	JobDir(jobID string) (string, error)

	// RemoveJobDir deletes the job directory and everything in it.
	RemoveJobDir(jobID string) error

	// Upload publishes an artifact of the given size and returns its URL.
	// Returns ErrRemoteNotConfigured when no remote backend is set up.
	Upload(ctx context.Context, key, contentType string, data io.Reader, size int64) (url string, err error)

	// RemoteEnabled reports whether Upload is supported.
	RemoteEnabled() bool
}

// ArtifactKey builds a collision-free object key for a job artifact.
func ArtifactKey(jobID, filename string) string {
	return path.Join("artifacts", jobID, fmt.Sprintf("%s-%s", uuid.NewString(), path.Base(filename)))
}
