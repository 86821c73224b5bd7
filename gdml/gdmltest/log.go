package gdmltest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordian-engine/ggov/gdml"
)

// Log is a loopback [gdml.Log].
type Log struct {
	log *slog.Logger

	net  *Network
	addr string

	seg *gdml.Segment

	mu         sync.Mutex
	closed     bool
	reachable  bool
	serving    int
	advanceErr error
	fetchGate  chan struct{}
}

var _ gdml.Log = (*Log)(nil)

// Addr returns the address l was registered under.
func (l *Log) Addr() string {
	return l.addr
}

// SetReachable controls whether other logs can push to or fetch from l.
// l can still push and fetch while unreachable.
func (l *Log) SetReachable(reachable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reachable = reachable
}

// FailNextAdvance causes the next call to Advance to return err
// without changing the height.
func (l *Log) FailNextAdvance(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanceErr = err
}

// PauseFetch blocks subsequent Fetch calls, before they contact any peer,
// until the returned release function is called.
func (l *Log) PauseFetch() (release func()) {
	gate := make(chan struct{})

	l.mu.Lock()
	l.fetchGate = gate
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.fetchGate == gate {
				l.fetchGate = nil
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Serving reports whether any Serve handle on l is active.
func (l *Log) Serving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serving > 0
}

// Close makes l unreachable and fails all further calls with [gdml.ErrLogClosed].
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *Log) isReachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable && !l.closed
}

func (l *Log) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return gdml.ErrLogClosed
	}
	return nil
}

func (l *Log) Height(ctx context.Context) (uint64, error) {
	if err := l.checkOpen(ctx); err != nil {
		return 0, err
	}
	return l.seg.Height(), nil
}

func (l *Log) AddMessage(ctx context.Context, _ gdml.NetworkConfig, peers []gdml.Peer, msg gdml.Message) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}

	if _, err := l.seg.Add(msg); err != nil {
		return err
	}

	if len(peers) == 0 {
		return nil
	}

	errs := make(map[string]error)
	delivered := 0
	for _, p := range peers {
		target, err := l.net.lookup(p.Addr)
		if err != nil {
			errs[p.Name] = err
			continue
		}

		fb, err := target.seg.Add(msg)
		if !fb.Delivered() {
			errs[p.Name] = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return gdml.NoReachablePeersError{Errs: errs}
	}
	if len(errs) > 0 {
		l.log.Debug("Message pushed to a subset of peers", "delivered", delivered, "failed", len(errs))
	}
	return nil
}

func (l *Log) Fetch(ctx context.Context, _ gdml.NetworkConfig, peers []gdml.Peer) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	gate := l.fetchGate
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-gate:
		}
	}

	if len(peers) == 0 {
		return nil
	}

	height := l.seg.Height()

	errs := make(map[string]error)
	for _, p := range peers {
		source, err := l.net.lookup(p.Addr)
		if err != nil {
			errs[p.Name] = err
			continue
		}

		for _, m := range source.seg.Messages(height) {
			if _, err := l.seg.Add(m); err != nil {
				l.log.Debug("Dropped fetched message", "peer", p.Name, "err", err)
			}
		}
	}

	if len(errs) == len(peers) {
		return gdml.NoReachablePeersError{Errs: errs}
	}
	return nil
}

func (l *Log) Messages(ctx context.Context, height uint64) ([]gdml.Message, error) {
	if err := l.checkOpen(ctx); err != nil {
		return nil, err
	}
	return l.seg.Messages(height), nil
}

func (l *Log) Advance(ctx context.Context) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	err := l.advanceErr
	l.advanceErr = nil
	l.mu.Unlock()
	if err != nil {
		return err
	}

	h, committed := l.seg.Advance()
	l.log.Debug("Advanced", "committed_height", h, "committed_messages", len(committed))
	return nil
}

func (l *Log) Serve(ctx context.Context, _ gdml.NetworkConfig, port uint16, _ *gdml.KnownPeers) (*gdml.Handle, error) {
	if err := l.checkOpen(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.serving++
	l.mu.Unlock()

	l.log.Debug("Serving", "port", port)

	return gdml.Go(ctx, func(ctx context.Context) error {
		defer func() {
			l.mu.Lock()
			l.serving--
			l.mu.Unlock()
		}()

		<-ctx.Done()
		return ctx.Err()
	}), nil
}
