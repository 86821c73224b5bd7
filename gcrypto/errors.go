package gcrypto

import (
	"errors"
	"fmt"
)

var ErrInvalidSignature = errors.New("signature could not be verified")

// UnknownKeyTypeError is returned from [*Registry.Unmarshal] and [*Registry.Decode]
// when the encoded key type was never registered.
type UnknownKeyTypeError struct {
	TypeName string
}

func (e UnknownKeyTypeError) Error() string {
	return fmt.Sprintf("no registered public key type for name %q", e.TypeName)
}

// ShortKeyError is returned from [*Registry.Unmarshal]
// when the input is too short to hold a type prefix.
type ShortKeyError struct {
	Len int
}

func (e ShortKeyError) Error() string {
	return fmt.Sprintf("encoded public key too short (%d bytes, need at least %d)", e.Len, prefixSize)
}
