// Package gmemstore contains an in-memory [gstore.Storage].
package gmemstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/gordian-engine/ggov/gstore"
)

// Storage is an in-memory implementation of [gstore.Storage].
// Lock hold times are bounded by a map access and a copy,
// so only the context's state at call time is checked.
type Storage struct {
	mu sync.RWMutex

	files map[string][]byte
}

func NewStorage() *Storage {
	return &Storage{
		files: make(map[string][]byte),
	}
}

func (s *Storage) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := gstore.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("failed to read %q: %w", name, gstore.ErrFileNotFound)
	}

	// Non-nil even when empty, so callers can distinguish from a failed read.
	return append([]byte{}, b...), nil
}

func (s *Storage) AddOrOverwriteFile(ctx context.Context, name string, data []byte) error {
	if err := gstore.ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[name] = bytes.Clone(data)
	return nil
}
