package gdmllibp2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/gordian-engine/ggov/gdml"
)

// Host is a libp2p host carrying the DML protocols.
type Host struct {
	h libp2phost.Host
}

// HostOptions holds libp2p configuration for the host.
type HostOptions struct {
	// Options are passed when creating a new libp2p host
	// (which is lower level than the Host type in this gdmllibp2p package).
	Options []libp2p.Option
}

func NewHost(opts HostOptions) (*Host, error) {
	h, err := libp2p.New(opts.Options...)
	if err != nil {
		return nil, err
	}

	return &Host{h: h}, nil
}

// Libp2pHost returns the underlying libp2p host value.
func (h *Host) Libp2pHost() libp2phost.Host {
	return h.h
}

// Peer returns a [gdml.Peer] that dials h at its first listen address.
func (h *Host) Peer(name string) (gdml.Peer, error) {
	addrs, err := libp2ppeer.AddrInfoToP2pAddrs(libp2phost.InfoFromHost(h.h))
	if err != nil {
		return gdml.Peer{}, fmt.Errorf("failed to build p2p addresses: %w", err)
	}
	if len(addrs) == 0 {
		return gdml.Peer{}, fmt.Errorf("host %s has no listen addresses", h.h.ID())
	}
	return gdml.Peer{Name: name, Addr: addrs[0].String()}, nil
}

// Close closes the underlying libp2p host and returns its error.
func (h *Host) Close() error {
	return h.h.Close()
}
