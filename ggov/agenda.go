package ggov

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// AgendaHashSize is the fixed size of an [AgendaHash].
const AgendaHashSize = 32

// AgendaHash is the digest identifying an agenda.
// It encodes as lowercase hex in text and JSON.
type AgendaHash [AgendaHashSize]byte

// HashAgenda returns the blake2b-256 digest of an agenda's canonical bytes.
func HashAgenda(agenda []byte) AgendaHash {
	return blake2b.Sum256(agenda)
}

// ParseAgendaHash decodes a hex-encoded agenda hash,
// failing unless it is exactly [AgendaHashSize] bytes.
func ParseAgendaHash(s string) (AgendaHash, error) {
	var h AgendaHash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

func (h AgendaHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h AgendaHash) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(AgendaHashSize))
	hex.Encode(out, h[:])
	return out, nil
}

func (h *AgendaHash) UnmarshalText(b []byte) error {
	if len(b) != hex.EncodedLen(AgendaHashSize) {
		return fmt.Errorf(
			"agenda hash must be %d hex characters; got %d",
			hex.EncodedLen(AgendaHashSize), len(b),
		)
	}
	if _, err := hex.Decode(h[:], b); err != nil {
		return fmt.Errorf("invalid agenda hash: %w", err)
	}
	return nil
}
