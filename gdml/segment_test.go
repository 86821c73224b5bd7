package gdml_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/gcrypto/gcryptotest"
	"github.com/gordian-engine/ggov/gdml"
	"github.com/gordian-engine/ggov/gexchange"
	"github.com/stretchr/testify/require"
)

func TestSegment_Add(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signer := gcryptotest.DeterministicEd25519Signers(1)[0]

	s := gdml.NewSegment(5)

	m, err := gdml.NewMessage(ctx, signer, 5, []byte("a"))
	require.NoError(t, err)

	fb, err := s.Add(m)
	require.NoError(t, err)
	require.Equal(t, gexchange.FeedbackAccepted, fb)

	t.Run("duplicate is ignored", func(t *testing.T) {
		fb, err := s.Add(m)
		require.NoError(t, err)
		require.Equal(t, gexchange.FeedbackIgnored, fb)
		require.Len(t, s.Messages(5), 1)
	})

	t.Run("other height is ignored with an error", func(t *testing.T) {
		future, err := gdml.NewMessage(ctx, signer, 6, []byte("b"))
		require.NoError(t, err)

		fb, err := s.Add(future)
		require.ErrorIs(t, err, gdml.HeightMismatchError{Current: 5, Message: 6})
		require.Equal(t, gexchange.FeedbackIgnored, fb)
	})

	t.Run("forged outer signature is rejected", func(t *testing.T) {
		forged := m
		forged.Content = []byte("forged")

		fb, err := s.Add(forged)
		require.ErrorIs(t, err, gcrypto.ErrInvalidSignature)
		require.Equal(t, gexchange.FeedbackRejected, fb)
	})

	require.Len(t, s.Messages(5), 1)
	require.Nil(t, s.Messages(4))
}

func TestSegment_Advance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signer := gcryptotest.DeterministicEd25519Signers(1)[0]

	s := gdml.NewSegment(1)
	m, err := gdml.NewMessage(ctx, signer, 1, []byte("a"))
	require.NoError(t, err)
	_, err = s.Add(m)
	require.NoError(t, err)

	h, committed := s.Advance()
	require.Equal(t, uint64(1), h)
	require.Len(t, committed, 1)

	require.Equal(t, uint64(2), s.Height())
	require.Empty(t, s.Messages(2))

	// The same content can be submitted again at the new height.
	m2, err := gdml.NewMessage(ctx, signer, 2, []byte("a"))
	require.NoError(t, err)
	fb, err := s.Add(m2)
	require.NoError(t, err)
	require.Equal(t, gexchange.FeedbackAccepted, fb)
}

func TestSegment_Restore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signer := gcryptotest.DeterministicEd25519Signers(1)[0]

	good, err := gdml.NewMessage(ctx, signer, 3, []byte("good"))
	require.NoError(t, err)
	wrongHeight, err := gdml.NewMessage(ctx, signer, 2, []byte("old"))
	require.NoError(t, err)
	forged := good
	forged.Content = []byte("forged")

	s := gdml.NewSegment(0)
	dropped := s.Restore(3, []gdml.Message{good, wrongHeight, forged, good})
	require.Equal(t, 2, dropped)

	h, msgs := s.Snapshot()
	require.Equal(t, uint64(3), h)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("good"), msgs[0].Content)
}
