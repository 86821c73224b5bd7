package ggov_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/ggov/ggov"
	"github.com/stretchr/testify/require"
)

func TestErrors_unwrapCancellation(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		ggov.StorageReadError{Name: "x", Err: context.Canceled},
		ggov.StorageWriteError{Name: "x", Err: context.Canceled},
		ggov.DeserializationError{Name: "x", Err: context.Canceled},
		ggov.SignatureError{Err: context.Canceled},
		ggov.PropagationError{Err: context.Canceled},
		ggov.NetworkError{Op: "fetch", Err: context.Canceled},
	} {
		require.ErrorIs(t, err, context.Canceled, err.Error())
	}
}

func TestIsStorageError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	require.True(t, ggov.IsStorageError(ggov.StorageWriteError{Name: "x", Err: boom}))
	require.True(t, ggov.IsStorageError(ggov.NotFoundError{Name: "x"}))
	require.True(t, ggov.IsStorageError(
		errors.Join(boom, ggov.DeserializationError{Name: "x", Err: boom}),
	))

	require.False(t, ggov.IsStorageError(boom))
	require.False(t, ggov.IsStorageError(ggov.NetworkError{Op: "fetch", Err: boom}))
	require.False(t, ggov.IsStorageError(ggov.HeightMismatchError{Want: 1, Have: 2}))
}
