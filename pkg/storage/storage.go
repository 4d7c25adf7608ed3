/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage keeps raw export uploads on local disk until the
// background pass has finished with them. Blobs are written atomically
// and guarded by a file lock so a duplicate upload for the same job
// cannot interleave writes.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) blobPath(jobID uuid.UUID) string {
	return filepath.Join(s.dir, jobID.String()+".json")
}

func (s *Store) lockPath(jobID uuid.UUID) string {
	return filepath.Join(s.dir, jobID.String()+".lock")
}

// Save streams the upload to disk and returns the blob path and byte
// count. The blob lands via temp-file rename; a concurrent Save for the
// same job blocks on the lock and the last writer wins.
func (s *Store) Save(ctx context.Context, jobID uuid.UUID, r io.Reader) (string, int64, error) {
	lock := flock.New(s.lockPath(jobID))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return "", 0, fmt.Errorf("failed to acquire upload lock: %w", err)
	}
	if !locked {
		return "", 0, fmt.Errorf("upload for job %s is already in progress", jobID)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			slog.WarnContext(ctx, "failed to release upload lock", "jobId", jobID, "error", unlockErr)
		}
	}()

	tmp, err := os.CreateTemp(s.dir, jobID.String()+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to flush upload: %w", err)
	}

	path := s.blobPath(jobID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("failed to finalize upload: %w", err)
	}
	return path, size, nil
}

// Open returns a reader over a stored export blob.
func (s *Store) Open(jobID uuid.UUID) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to open export for job %s: %w", jobID, err)
	}
	return f, nil
}

// Delete removes the blob and its lock file. Missing files are fine:
// cleanup runs after both success and failure paths.
func (s *Store) Delete(jobID uuid.UUID) error {
	if err := os.Remove(s.blobPath(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete export for job %s: %w", jobID, err)
	}
	if err := os.Remove(s.lockPath(jobID)); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to delete lock file", "jobId", jobID, "error", err)
	}
	return nil
}

// Exists reports whether a blob is present for the job.
func (s *Store) Exists(jobID uuid.UUID) bool {
	_, err := os.Stat(s.blobPath(jobID))
	return err == nil
}
