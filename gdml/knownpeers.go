package gdml

import (
	"slices"
	"sync"
)

// KnownPeers is a peer set shared between a serving log and its callers.
// The set may change while the log is serving.
type KnownPeers struct {
	mu    sync.RWMutex
	peers []Peer
}

func NewKnownPeers(peers ...Peer) *KnownPeers {
	kp := new(KnownPeers)
	for _, p := range peers {
		kp.Add(p)
	}
	return kp
}

// Add inserts p, replacing any existing peer with the same name.
func (kp *KnownPeers) Add(p Peer) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if i := slices.IndexFunc(kp.peers, func(q Peer) bool { return q.Name == p.Name }); i >= 0 {
		kp.peers[i] = p
		return
	}
	kp.peers = append(kp.peers, p)
}

// Remove deletes the peer with the given name, reporting whether it was present.
func (kp *KnownPeers) Remove(name string) bool {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	i := slices.IndexFunc(kp.peers, func(q Peer) bool { return q.Name == name })
	if i < 0 {
		return false
	}
	kp.peers = slices.Delete(kp.peers, i, i+1)
	return true
}

// Snapshot returns a copy of the current peers.
func (kp *KnownPeers) Snapshot() []Peer {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return slices.Clone(kp.peers)
}
