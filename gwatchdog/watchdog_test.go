package gwatchdog_test

import (
	"context"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/ggov/gwatchdog"
	"github.com/gordian-engine/ggov/internal/gtest"
)

func TestWatchdog_Terminate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := gwatchdog.NewWatchdog(ctx, slogt.New(t))
	defer w.Wait()
	defer cancel()

	require.NoError(t, wCtx.Err())
	require.False(t, gwatchdog.IsTermination(wCtx))

	w.Terminate("testing purposes")
	require.Error(t, wCtx.Err())
	require.True(t, gwatchdog.IsTermination(wCtx))
	require.Equal(t, gwatchdog.ForcedTerminationError{Reason: "testing purposes"}, context.Cause(wCtx))

	// The first cause sticks.
	w.Terminate("again")
	require.Equal(t, gwatchdog.ForcedTerminationError{Reason: "testing purposes"}, context.Cause(wCtx))
}

func TestWatchdog_parentCancelIsNotTermination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	w, wCtx := gwatchdog.NewWatchdog(ctx, slogt.New(t))
	defer w.Wait()

	cancel()
	w.Terminate("late")

	require.Error(t, wCtx.Err())
	require.False(t, gwatchdog.IsTermination(wCtx))
}

func TestWatchdog_unansweredSignalTerminates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := gwatchdog.NewWatchdog(ctx, slogt.New(t))
	defer w.Wait()
	defer cancel()

	sigCh := w.Monitor(gwatchdog.MonitorConfig{
		Name:     "fetch",
		Interval: time.Millisecond, Jitter: 100 * time.Microsecond,
		ResponseTimeout: time.Millisecond,
	})

	// Accept the signal but never close Alive.
	_ = gtest.ReceiveSoon(t, sigCh)

	_ = gtest.ReceiveSoon(t, wCtx.Done())
	require.True(t, gwatchdog.IsTermination(wCtx))
	require.Equal(t, gwatchdog.FailureToRespondError{SubsystemName: "fetch"}, context.Cause(wCtx))
}

func TestWatchdog_answeredSignalsKeepRunning(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := gwatchdog.NewWatchdog(ctx, slogt.New(t))
	defer w.Wait()
	defer cancel()

	sigCh := w.Monitor(gwatchdog.MonitorConfig{
		Name:     "fetch",
		Interval: time.Millisecond, Jitter: 100 * time.Microsecond,
		ResponseTimeout: time.Second,
	})

	for range 5 {
		sig := gtest.ReceiveSoon(t, sigCh)
		close(sig.Alive)
	}

	require.NoError(t, wCtx.Err())
}

func TestWatchdog_nop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wCtx := gwatchdog.NewNopWatchdog(ctx, slogt.New(t))
	defer w.Wait()

	sigCh := w.Monitor(gwatchdog.MonitorConfig{
		Name:     "fetch",
		Interval: time.Millisecond, Jitter: time.Millisecond,
		ResponseTimeout: time.Millisecond,
	})
	require.Nil(t, sigCh)

	w.Terminate("stop")
	require.True(t, gwatchdog.IsTermination(wCtx))
}

func TestWatchdog_invalidConfigPanics(t *testing.T) {
	t.Parallel()

	w, _ := gwatchdog.NewNopWatchdog(context.Background(), slogt.New(t))
	require.Panics(t, func() {
		w.Monitor(gwatchdog.MonitorConfig{Name: "x", Interval: time.Second})
	})
}
