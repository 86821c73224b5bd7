package gdml_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	t.Run("stop reports nil", func(t *testing.T) {
		t.Parallel()

		h := gdml.Go(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		gtest.NotSending(t, h.Done())

		h.Stop()
		_ = gtest.ReceiveSoon(t, h.Done())
		require.NoError(t, h.Wait())
	})

	t.Run("parent cancellation stops the handle", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		h := gdml.Go(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})

		cancel()
		_ = gtest.ReceiveSoon(t, h.Done())
		require.NoError(t, h.Wait())
	})

	t.Run("failure is reported", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		h := gdml.Go(context.Background(), func(context.Context) error {
			return boom
		})

		require.ErrorIs(t, h.Wait(), boom)
	})
}
