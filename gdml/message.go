package gdml

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordian-engine/ggov/gcrypto"
	"golang.org/x/crypto/blake2b"
)

const signBytesPrefix = "ggov-dml|"

// Message is one entry in a DML segment.
//
// Content is opaque to the log.
// Signature is the outer transport signature by Signer over
// [SignBytes] of Height and Content;
// it authenticates the submitting node, not the author of Content.
type Message struct {
	Height  uint64
	Content []byte

	Signer    gcrypto.PubKey
	Signature []byte
}

// MessageID identifies a message for deduplication.
type MessageID [32]byte

func (id MessageID) String() string {
	return fmt.Sprintf("%x", id[:8])
}

// NewMessage returns a message for height carrying content,
// signed by signer.
func NewMessage(ctx context.Context, signer gcrypto.Signer, height uint64, content []byte) (Message, error) {
	sig, err := signer.Sign(ctx, SignBytes(height, content))
	if err != nil {
		return Message{}, fmt.Errorf("failed to sign message: %w", err)
	}

	return Message{
		Height:  height,
		Content: content,

		Signer:    signer.PubKey(),
		Signature: sig,
	}, nil
}

// SignBytes returns the bytes covered by the outer signature.
// The height is included so a message cannot be replayed into another segment.
func SignBytes(height uint64, content []byte) []byte {
	b := make([]byte, 0, len(signBytesPrefix)+8+len(content))
	b = append(b, signBytesPrefix...)
	b = binary.BigEndian.AppendUint64(b, height)
	return append(b, content...)
}

// Verify reports whether m's outer signature is valid.
func (m Message) Verify() bool {
	if m.Signer == nil {
		return false
	}
	return m.Signer.Verify(SignBytes(m.Height, m.Content), m.Signature)
}

// ID returns the deduplication ID of m.
// Two messages with the same signer, height, and content share an ID,
// regardless of signature bytes.
func (m Message) ID() MessageID {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only possible with an oversized key.
		panic(fmt.Errorf("BUG: blake2b.New256: %w", err))
	}

	if m.Signer != nil {
		pk := m.Signer.PubKeyBytes()
		_ = binary.Write(h, binary.BigEndian, uint32(len(pk)))
		h.Write(pk)
	}
	h.Write(SignBytes(m.Height, m.Content))

	var id MessageID
	h.Sum(id[:0])
	return id
}
