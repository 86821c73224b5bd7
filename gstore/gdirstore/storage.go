// Package gdirstore contains a [gstore.Storage] backed by a directory on disk.
//
// Each blob is one file in the directory.
// Writes replace the file atomically through a rename,
// and every operation holds an advisory lock on a sidecar lock file,
// shared for reads and exclusive for writes,
// so that separate processes pointed at the same directory
// observe the same ordering as goroutines within one process.
package gdirstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/gordian-engine/ggov/gstore"
)

const lockFileName = ".ggov.lock"

// DefaultLockRetry is how often a blocked operation retries the lock.
const DefaultLockRetry = 5 * time.Millisecond

// Storage is a directory-backed implementation of [gstore.Storage].
type Storage struct {
	dir      string
	lockPath string

	lockRetry time.Duration
}

// NewStorage returns a Storage rooted at dir,
// creating the directory if it does not exist.
func NewStorage(dir string) (*Storage, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %q: %w", dir, err)
	}

	return &Storage{
		dir:      dir,
		lockPath: filepath.Join(dir, lockFileName),

		lockRetry: DefaultLockRetry,
	}, nil
}

// Dir returns the root directory of s.
func (s *Storage) Dir() string {
	return s.dir
}

func (s *Storage) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	// A new Flock for every call:
	// a single Flock value tracks one lock state and is not reentrant.
	fl := flock.New(s.lockPath)
	ok, err := fl.TryRLockContext(ctx, s.lockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire shared lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to acquire shared lock: %w", context.Cause(ctx))
	}
	defer fl.Unlock()

	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %q: %w", name, gstore.ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}

	return b, nil
}

func (s *Storage) AddOrOverwriteFile(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	fl := flock.New(s.lockPath)
	ok, err := fl.TryLockContext(ctx, s.lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to acquire exclusive lock: %w", context.Cause(ctx))
	}
	defer fl.Unlock()

	if err := renameio.WriteFile(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %q: %w", name, err)
	}

	return nil
}

func validateName(name string) error {
	if err := gstore.ValidateName(name); err != nil {
		return err
	}
	if name == lockFileName {
		return gstore.InvalidNameError{Name: name}
	}
	return nil
}
