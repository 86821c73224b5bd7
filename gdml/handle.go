package gdml

import (
	"context"
	"errors"
)

// Handle controls a background serving goroutine.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Go runs fn in a new goroutine with a context derived from ctx,
// returning a Handle that can stop it.
// fn must return once its context is canceled.
func Go(ctx context.Context, fn func(context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()

		err := fn(ctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Stopping is not a failure.
			err = nil
		}
		h.err = err
	}()

	return h
}

// Stop cancels the serving goroutine without waiting for it.
func (h *Handle) Stop() {
	h.cancel()
}

// Done returns a channel that is closed once the goroutine returns.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the goroutine returns and reports its error.
// Cancellation through Stop or the parent context is reported as nil.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}
