// Package gdmltest contains an in-process DML network for tests.
//
// Messages never leave the process.
// Every [Log] on a [Network] is addressable by the name it was created with,
// and tests can partition logs, pause fetches, and inject advance failures.
package gdmltest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordian-engine/ggov/gdml"
)

// ErrUnreachable is recorded for a peer that is partitioned, closed, or unknown.
var ErrUnreachable = errors.New("peer unreachable")

// Network is a set of loopback logs that can reach one another by address.
type Network struct {
	mu   sync.Mutex
	logs map[string]*Log
}

func NewNetwork() *Network {
	return &Network{
		logs: make(map[string]*Log),
	}
}

// NewLog returns a new log registered under addr, open at height.
// It panics if addr is already in use.
func (n *Network) NewLog(log *slog.Logger, addr string, height uint64) *Log {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.logs[addr]; ok {
		panic(fmt.Errorf("BUG: loopback address %q registered twice", addr))
	}

	l := &Log{
		log:  log.With("dml_addr", addr),
		net:  n,
		addr: addr,
		seg:  gdml.NewSegment(height),

		reachable: true,
	}
	n.logs[addr] = l
	return l
}

// Peer returns the peer value for the log registered under addr.
func (n *Network) Peer(addr string) gdml.Peer {
	return gdml.Peer{Name: addr, Addr: addr}
}

func (n *Network) lookup(addr string) (*Log, error) {
	n.mu.Lock()
	l, ok := n.logs[addr]
	n.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no log at %q: %w", addr, ErrUnreachable)
	}
	if !l.isReachable() {
		return nil, fmt.Errorf("log at %q: %w", addr, ErrUnreachable)
	}
	return l, nil
}
