package gdmltest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/ggov/gcrypto/gcryptotest"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gdml/gdmltest"
	"github.com/gordian-engine/ggov/internal/gtest"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

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

	ctx := context.Background()
	log := slogt.New(t)

	n := gdmltest.NewNetwork()
	a := n.NewLog(log, "a", 1)
	b := n.NewLog(log, "b", 1)
	c := n.NewLog(log, "c", 1)

	// Pushed from a to b only.
	m := newMessage(t, 1, "hello")
	require.NoError(t, a.AddMessage(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("b")}, m))

	got, err := b.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = c.Messages(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, got)

	// c learns of it by fetching from b.
	require.NoError(t, c.Fetch(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("b")}))
	got, err = c.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, m.ID(), got[0].ID())

	// Fetching again does not duplicate.
	require.NoError(t, c.Fetch(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("a"), n.Peer("b")}))
	got, err = c.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestLog_heightFiltering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slogt.New(t)

	n := gdmltest.NewNetwork()
	a := n.NewLog(log, "a", 2)
	b := n.NewLog(log, "b", 3)

	require.NoError(t, a.AddMessage(ctx, gdml.NetworkConfig{}, nil, newMessage(t, 2, "old")))

	require.NoError(t, b.Fetch(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("a")}))
	got, err := b.Messages(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, got)

	err = a.AddMessage(ctx, gdml.NetworkConfig{}, nil, newMessage(t, 3, "future"))
	require.ErrorIs(t, err, gdml.HeightMismatchError{Current: 2, Message: 3})
}

func TestLog_unreachable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slogt.New(t)

	n := gdmltest.NewNetwork()
	a := n.NewLog(log, "a", 1)
	b := n.NewLog(log, "b", 1)
	b.SetReachable(false)

	err := a.AddMessage(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("b"), n.Peer("missing")}, newMessage(t, 1, "x"))
	require.True(t, gdml.IsNoReachablePeers(err))

	// Still stored locally.
	got, err := a.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	err = a.Fetch(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("b")})
	require.True(t, gdml.IsNoReachablePeers(err))

	// Partial reachability is fine.
	c := n.NewLog(log, "c", 1)
	require.NoError(t, c.Fetch(ctx, gdml.NetworkConfig{}, []gdml.Peer{n.Peer("b"), n.Peer("a")}))
	got, err = c.Messages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestLog_advance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slogt.New(t)

	n := gdmltest.NewNetwork()
	a := n.NewLog(log, "a", 4)
	require.NoError(t, a.AddMessage(ctx, gdml.NetworkConfig{}, nil, newMessage(t, 4, "x")))

	boom := errors.New("boom")
	a.FailNextAdvance(boom)
	require.ErrorIs(t, a.Advance(ctx), boom)

	h, err := a.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), h)

	require.NoError(t, a.Advance(ctx))
	h, err = a.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), h)

	got, err := a.Messages(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLog_pauseFetchRespectsContext(t *testing.T) {
	t.Parallel()

	log := slogt.New(t)

	n := gdmltest.NewNetwork()
	a := n.NewLog(log, "a", 1)
	release := a.PauseFetch()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := a.Fetch(ctx, gdml.NetworkConfig{}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLog_closeAndServe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slogt.New(t)

	n := gdmltest.NewNetwork()
	a := n.NewLog(log, "a", 1)

	h, err := a.Serve(ctx, gdml.NetworkConfig{}, 123, gdml.NewKnownPeers())
	require.NoError(t, err)
	require.True(t, a.Serving())

	h.Stop()
	_ = gtest.ReceiveSoon(t, h.Done())
	require.NoError(t, h.Wait())
	require.False(t, a.Serving())

	a.Close()
	_, err = a.Height(ctx)
	require.ErrorIs(t, err, gdml.ErrLogClosed)
}
