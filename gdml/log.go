// Package gdml defines the distributed message log (DML) consumed by governance:
// a height-scoped, append-only, gossip-replicated set of signed messages.
//
// The log's own replication protocol lives in the implementations
// ([github.com/gordian-engine/ggov/gdml/gdmllibp2p] for production,
// [github.com/gordian-engine/ggov/gdml/gdmltest] for tests).
package gdml

import (
	"context"

	"github.com/gordian-engine/ggov/gcrypto"
)

// Log is the distributed message log contract.
//
// All methods are safe for concurrent use.
type Log interface {
	// Height returns the height of the currently open segment.
	Height(ctx context.Context) (uint64, error)

	// AddMessage stores msg in the local segment and pushes it to peers.
	// msg must be stamped with the current height.
	//
	// With a non-empty peers slice, AddMessage returns a [NoReachablePeersError]
	// if no peer accepted the push.
	// With an empty peers slice the message is only stored locally,
	// and other nodes will observe it when they fetch from this node.
	AddMessage(ctx context.Context, nc NetworkConfig, peers []Peer, msg Message) error

	// Fetch pulls messages for the current height from peers
	// into the local segment.
	// A failure to reach some peers is not an error;
	// failing to reach every peer is a [NoReachablePeersError].
	Fetch(ctx context.Context, nc NetworkConfig, peers []Peer) error

	// Messages returns the locally known messages stamped with height,
	// in the order they were first observed.
	// It returns nil if height is not the current height.
	Messages(ctx context.Context, height uint64) ([]Message, error)

	// Advance commits the current segment and opens the next one,
	// so that Height increases by exactly one.
	Advance(ctx context.Context) error

	// Serve answers other nodes' pushes and fetches on the given port
	// until the returned handle is stopped or ctx is canceled.
	Serve(ctx context.Context, nc NetworkConfig, port uint16, peers *KnownPeers) (*Handle, error)
}

// NetworkConfig is the node's network identity.
type NetworkConfig struct {
	// Signer produces the outer transport signature on every message
	// this node submits.
	Signer gcrypto.Signer

	// ListenIP is the IPv4 address to serve on.
	// Empty means all interfaces.
	ListenIP string
}

// Peer is a remote node reachable for pushes and fetches.
type Peer struct {
	// Name is a human-readable label for logs.
	Name string

	// Addr is implementation-specific:
	// a multiaddr including the /p2p/ component for libp2p,
	// or the registered name for the loopback network.
	Addr string
}
