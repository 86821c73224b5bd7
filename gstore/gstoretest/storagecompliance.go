// Package gstoretest contains a compliance suite
// that every [gstore.Storage] implementation runs.
package gstoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gordian-engine/ggov/gstore"
	"github.com/stretchr/testify/require"
)

// StorageFactory returns a new, empty Storage.
// Resources associated with the storage should be released through cleanup.
type StorageFactory func(cleanup func(func())) (gstore.Storage, error)

func TestStorageCompliance(t *testing.T, f StorageFactory) {
	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.ReadFile(ctx, "state.json")
		require.ErrorIs(t, err, gstore.ErrFileNotFound)
	})

	t.Run("add then read", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		data := []byte("hello")
		require.NoError(t, s.AddOrOverwriteFile(ctx, "greeting", data))

		got, err := s.ReadFile(ctx, "greeting")
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), got)

		t.Run("stored data is independent of the input", func(t *testing.T) {
			data[0] = 'j'

			got, err := s.ReadFile(ctx, "greeting")
			require.NoError(t, err)
			require.Equal(t, []byte("hello"), got)
		})

		t.Run("returned data is independent of the store", func(t *testing.T) {
			got, err := s.ReadFile(ctx, "greeting")
			require.NoError(t, err)
			got[0] = 'y'

			again, err := s.ReadFile(ctx, "greeting")
			require.NoError(t, err)
			require.Equal(t, []byte("hello"), again)
		})
	})

	t.Run("overwrite", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.AddOrOverwriteFile(ctx, "f", []byte("a longer first value")))
		require.NoError(t, s.AddOrOverwriteFile(ctx, "f", []byte("short")))

		got, err := s.ReadFile(ctx, "f")
		require.NoError(t, err)
		require.Equal(t, []byte("short"), got)
	})

	t.Run("empty blob is distinct from missing", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.AddOrOverwriteFile(ctx, "empty", nil))

		got, err := s.ReadFile(ctx, "empty")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("names are independent", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.AddOrOverwriteFile(ctx, "a", []byte("1")))
		require.NoError(t, s.AddOrOverwriteFile(ctx, "b", []byte("2")))

		got, err := s.ReadFile(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, []byte("1"), got)

		got, err = s.ReadFile(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, []byte("2"), got)
	})

	t.Run("invalid names", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		err = s.AddOrOverwriteFile(ctx, "../escape", []byte("x"))
		require.ErrorIs(t, err, gstore.InvalidNameError{Name: "../escape"})

		_, err = s.ReadFile(ctx, "")
		require.ErrorIs(t, err, gstore.InvalidNameError{Name: ""})
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.Error(t, s.AddOrOverwriteFile(ctx, "f", []byte("x")))
		_, err = s.ReadFile(ctx, "f")
		require.Error(t, err)
	})

	t.Run("concurrent writers and readers never see torn values", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		const n = 8
		values := make(map[string]bool, n)
		for i := range n {
			values[fmt.Sprintf("value-%d-%s", i, string(make([]byte, i*16)))] = true
		}
		require.NoError(t, s.AddOrOverwriteFile(ctx, "f", []byte("value-0-")))
		values["value-0-"] = true

		var wg sync.WaitGroup
		for v := range values {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := s.AddOrOverwriteFile(ctx, "f", []byte(v)); err != nil {
					t.Errorf("write failed: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				got, err := s.ReadFile(ctx, "f")
				if err != nil {
					t.Errorf("read failed: %v", err)
					return
				}
				if !values[string(got)] {
					t.Errorf("read torn value %q", got)
				}
			}()
		}
		wg.Wait()
	})
}
