package gdmllibp2p_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gcrypto/gcryptotest"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gdml/gdmllibp2p"
	"github.com/gordian-engine/ggov/gstore"
	"github.com/gordian-engine/ggov/gstore/gmemstore"
)

func newHost(t *testing.T) *gdmllibp2p.Host {
	t.Helper()

	h, err := gdmllibp2p.NewHost(gdmllibp2p.HostOptions{
		Options: []libp2p.Option{
			// Only use localhost and TCP for test.
			libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"),
			libp2p.Transport(tcp.NewTCPTransport),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

type node struct {
	Host  *gdmllibp2p.Host
	Store gstore.Storage
	Log   *gdmllibp2p.Log
	Peer  gdml.Peer
}

func newNode(t *testing.T, ctx context.Context, name string, height uint64) node {
	t.Helper()
	return newPagedNode(t, ctx, name, height, 0)
}

func newPagedNode(t *testing.T, ctx context.Context, name string, height uint64, pageBytes int) node {
	t.Helper()

	h := newHost(t)
	store := gmemstore.NewStorage()

	l, err := gdmllibp2p.NewLog(ctx, slogt.New(t).With("node", name), gdmllibp2p.Config{
		Host:           h,
		CryptoRegistry: gcrypto.NewEd25519Registry(),
		Storage:        store,
		InitialHeight:  height,
		FetchPageBytes: pageBytes,
	})
	require.NoError(t, err)

	hdl, err := l.Serve(ctx, gdml.NetworkConfig{}, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		hdl.Stop()
		_ = hdl.Wait()
	})

	p, err := h.Peer(name)
	require.NoError(t, err)

	return node{Host: h, Store: store, Log: l, Peer: p}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newMessage(t *testing.T, height uint64, content string) gdml.Message {
	t.Helper()

	m, err := gdml.NewMessage(
		context.Background(),
		gcryptotest.DeterministicEd25519Signers(1)[0],
		height, []byte(content),
	)
	require.NoError(t, err)
	return m
}

func TestLog_pushAndFetch(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	nc := gdml.NetworkConfig{}

	a := newNode(t, ctx, "a", 1)
	b := newNode(t, ctx, "b", 1)
	c := newNode(t, ctx, "c", 1)

	m := newMessage(t, 1, "hello")
	require.NoError(t, a.Log.AddMessage(ctx, nc, []gdml.Peer{b.Peer}, m))

	got, err := b.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, m.ID(), got[0].ID())
	require.True(t, got[0].Verify())

	got, err = c.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, c.Log.Fetch(ctx, nc, []gdml.Peer{b.Peer}))
	got, err = c.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Fetching from several peers with the same message does not duplicate it.
	require.NoError(t, c.Log.Fetch(ctx, nc, []gdml.Peer{a.Peer, b.Peer}))
	got, err = c.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Pushing a duplicate still counts as delivered.
	require.NoError(t, a.Log.AddMessage(ctx, nc, []gdml.Peer{b.Peer}, m))
}

func TestLog_heightFiltering(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	nc := gdml.NetworkConfig{}

	a := newNode(t, ctx, "a", 2)
	b := newNode(t, ctx, "b", 3)

	require.NoError(t, a.Log.AddMessage(ctx, nc, nil, newMessage(t, 2, "old")))

	require.NoError(t, b.Log.Fetch(ctx, nc, []gdml.Peer{a.Peer}))
	got, err := b.Log.Messages(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, got)

	err = a.Log.AddMessage(ctx, nc, nil, newMessage(t, 3, "future"))
	require.ErrorIs(t, err, gdml.HeightMismatchError{Current: 2, Message: 3})
}

func TestLog_forgedMessage(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	a := newNode(t, ctx, "a", 1)

	m := newMessage(t, 1, "hello")
	m.Content = []byte("goodbye")

	err := a.Log.AddMessage(ctx, gdml.NetworkConfig{}, nil, m)
	require.ErrorIs(t, err, gcrypto.ErrInvalidSignature)

	got, err := a.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLog_unreachable(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	nc := gdml.NetworkConfig{}

	a := newNode(t, ctx, "a", 1)

	gone := newHost(t)
	gonePeer, err := gone.Peer("gone")
	require.NoError(t, err)
	require.NoError(t, gone.Close())

	err = a.Log.AddMessage(ctx, nc, []gdml.Peer{gonePeer}, newMessage(t, 1, "x"))
	require.True(t, gdml.IsNoReachablePeers(err))

	// Still stored locally.
	got, err := a.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	err = a.Log.Fetch(ctx, nc, []gdml.Peer{gonePeer})
	require.True(t, gdml.IsNoReachablePeers(err))

	// One reachable peer is enough.
	b := newNode(t, ctx, "b", 1)
	require.NoError(t, b.Log.Fetch(ctx, nc, []gdml.Peer{gonePeer, a.Peer}))
	got, err = b.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	err = b.Log.Fetch(ctx, nc, []gdml.Peer{{Name: "bad", Addr: "not a multiaddr"}})
	require.True(t, gdml.IsNoReachablePeers(err))
}

func TestLog_stoppedServe(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	nc := gdml.NetworkConfig{}

	h := newHost(t)
	l, err := gdmllibp2p.NewLog(ctx, slogt.New(t), gdmllibp2p.Config{
		Host:           h,
		CryptoRegistry: gcrypto.NewEd25519Registry(),
		Storage:        gmemstore.NewStorage(),
		InitialHeight:  1,
	})
	require.NoError(t, err)
	require.NoError(t, l.AddMessage(ctx, nc, nil, newMessage(t, 1, "x")))

	hdl, err := l.Serve(ctx, nc, 0, nil)
	require.NoError(t, err)

	p, err := h.Peer("served")
	require.NoError(t, err)

	b := newNode(t, ctx, "b", 1)
	require.NoError(t, b.Log.Fetch(ctx, nc, []gdml.Peer{p}))

	hdl.Stop()
	require.NoError(t, hdl.Wait())

	err = b.Log.Fetch(ctx, nc, []gdml.Peer{p})
	require.True(t, gdml.IsNoReachablePeers(err))
}

func TestLog_persistence(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	nc := gdml.NetworkConfig{}

	a := newNode(t, ctx, "a", 7)
	m := newMessage(t, 7, "x")
	require.NoError(t, a.Log.AddMessage(ctx, nc, nil, m))

	reg := gcrypto.NewEd25519Registry()
	reopen := func() *gdmllibp2p.Log {
		l, err := gdmllibp2p.NewLog(ctx, slogt.New(t), gdmllibp2p.Config{
			Host:           newHost(t),
			CryptoRegistry: reg,
			Storage:        a.Store,

			// Ignored because the storage already holds a segment.
			InitialHeight: 1,
		})
		require.NoError(t, err)
		return l
	}

	l := reopen()
	h, err := l.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), h)

	got, err := l.Messages(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, m.ID(), got[0].ID())

	require.NoError(t, a.Log.Advance(ctx))

	committed, err := a.Store.ReadFile(ctx, gdmllibp2p.CommittedSegmentFileName(7))
	require.NoError(t, err)
	require.Contains(t, string(committed), `"Height":7`)

	l = reopen()
	h, err = l.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(8), h)

	got, err = l.Messages(ctx, 8)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLog_closed(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	a := newNode(t, ctx, "a", 1)
	a.Log.Close()

	_, err := a.Log.Height(ctx)
	require.ErrorIs(t, err, gdml.ErrLogClosed)
	require.ErrorIs(t, a.Log.Advance(ctx), gdml.ErrLogClosed)
	require.ErrorIs(t, a.Log.AddMessage(ctx, gdml.NetworkConfig{}, nil, newMessage(t, 1, "x")), gdml.ErrLogClosed)
}

func TestLog_fetchPages(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	nc := gdml.NetworkConfig{}

	// A one-byte budget puts every message on its own page.
	a := newPagedNode(t, ctx, "a", 1, 1)
	b := newNode(t, ctx, "b", 1)

	want := make(map[gdml.MessageID]struct{})
	for i := range 5 {
		m := newMessage(t, 1, fmt.Sprintf("msg-%d", i))
		require.NoError(t, a.Log.AddMessage(ctx, nc, nil, m))
		want[m.ID()] = struct{}{}
	}

	require.NoError(t, b.Log.Fetch(ctx, nc, []gdml.Peer{a.Peer}))

	got, err := b.Log.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for _, m := range got {
		require.Contains(t, want, m.ID())
	}
}
