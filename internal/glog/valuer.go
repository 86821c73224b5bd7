package glog

import (
	"fmt"
	"log/slog"

	"github.com/gordian-engine/ggov/gcrypto"
)

// Hex renders a byte slice as a hex string
// instead of a quoted string full of escape codes.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}

// Key renders a public key as a group of its type name and hex bytes.
// A nil key renders as an empty group, so it can be logged
// straight from a partially decoded vote.
type Key struct {
	gcrypto.PubKey
}

func (k Key) LogValue() slog.Value {
	if k.PubKey == nil {
		return slog.GroupValue()
	}
	return slog.GroupValue(
		slog.String("type", k.TypeName()),
		slog.String("hex", fmt.Sprintf("%x", k.PubKeyBytes())),
	)
}
