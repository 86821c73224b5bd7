// Package gwatchdog cancels a root context when a long-running loop stops making progress.
//
// A loop opts in through [*Watchdog.Monitor] and must answer each [Signal]
// it receives by closing [Signal.Alive] within the configured response timeout.
// A loop that misses a signal cancels the watchdog context
// with a [FailureToRespondError] cause.
package gwatchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type Watchdog struct {
	log *slog.Logger

	cancel context.CancelCauseFunc
	wCtx   context.Context

	// nop watchdogs never start monitors.
	nop bool

	wg sync.WaitGroup
}

// NewWatchdog returns a new Watchdog and a context derived from ctx
// that is canceled when a monitored loop fails to respond
// or [*Watchdog.Terminate] is called.
func NewWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	return &Watchdog{
		log:    log,
		cancel: cancel,
		wCtx:   wCtx,
	}, wCtx
}

// NewNopWatchdog returns a Watchdog whose Monitor calls return nil channels.
// Terminate still cancels the returned context.
func NewNopWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	w, wCtx := NewWatchdog(ctx, log)
	w.nop = true
	return w, wCtx
}

// Wait blocks until every monitor goroutine has stopped.
// Monitors stop once the watchdog context is canceled.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Terminate cancels the watchdog context with a [ForcedTerminationError] cause.
func (w *Watchdog) Terminate(reason string) {
	w.cancel(ForcedTerminationError{Reason: reason})
}

// MonitorConfig describes how often a loop is polled and how quickly it must answer.
type MonitorConfig struct {
	// Name identifies the loop in logs and in [FailureToRespondError].
	Name string

	// The loop is polled every Interval, plus or minus a uniform Jitter.
	Interval, Jitter time.Duration

	// The loop must receive the signal and close Alive within ResponseTimeout.
	ResponseTimeout time.Duration
}

func (c MonitorConfig) validate() error {
	var err error
	if c.Name == "" {
		err = errors.Join(err, errors.New("MonitorConfig.Name must not be empty"))
	}
	if c.Interval <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Interval must be positive"))
	}
	if c.Jitter <= 0 || c.Jitter > c.Interval {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be positive and no greater than Interval"))
	}
	if c.ResponseTimeout <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.ResponseTimeout must be positive"))
	}
	return err
}

// Signal is delivered on the channel returned by [*Watchdog.Monitor].
type Signal struct {
	// Alive must be closed as soon as the loop handles the signal.
	Alive chan<- struct{}
}

// Monitor starts polling a loop described by cfg
// and returns the channel the loop must receive signals from.
// It panics if cfg is invalid.
// A nop watchdog returns a nil channel, which never delivers.
func (w *Watchdog) Monitor(cfg MonitorConfig) <-chan Signal {
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("BUG: invalid MonitorConfig: %w", err))
	}

	if w.nop {
		return nil
	}

	sigCh := make(chan Signal)
	w.wg.Add(1)
	go w.monitor(w.log.With("target", cfg.Name), cfg, sigCh)
	return sigCh
}

func (w *Watchdog) monitor(log *slog.Logger, cfg MonitorConfig, sigCh chan<- Signal) {
	defer w.wg.Done()

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		j := time.Duration(rng.Int64N(int64(2*cfg.Jitter))) - cfg.Jitter
		timer := time.NewTimer(cfg.Interval + j)

		select {
		case <-w.wCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !w.poll(cfg, sigCh) {
			log.Warn("Monitored loop failed to respond", "timeout", cfg.ResponseTimeout)
			w.cancel(FailureToRespondError{SubsystemName: cfg.Name})
			return
		}
	}
}

// poll sends one signal and waits for it to be answered.
// It reports false only if the response timeout elapsed;
// cancellation of the watchdog context counts as success.
func (w *Watchdog) poll(cfg MonitorConfig, sigCh chan<- Signal) bool {
	alive := make(chan struct{})

	timer := time.NewTimer(cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case <-w.wCtx.Done():
		return true
	case sigCh <- Signal{Alive: alive}:
	case <-timer.C:
		return false
	}

	select {
	case <-w.wCtx.Done():
		return true
	case <-alive:
		return true
	case <-timer.C:
		// Both cases may have been ready at once.
		select {
		case <-alive:
			return true
		default:
			return false
		}
	}
}
