package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// Prefixes are encoded as a fixed width.
const prefixSize = 8

// Registry is a runtime-defined registry to manage encoding and decoding
// a predetermined set of public key types.
//
// A Registry must be fully populated before concurrent use.
type Registry struct {
	byType map[reflect.Type]string

	// For unmarshalling
	byPrefix map[string]NewPubKeyFunc
}

type NewPubKeyFunc func([]byte) (PubKey, error)

// NewEd25519Registry returns a Registry with only ed25519 registered,
// which is the common configuration for a governance node.
func NewEd25519Registry() *Registry {
	reg := new(Registry)
	RegisterEd25519(reg)
	return reg
}

// Register associates name with the concrete type of inst.
// It panics if name is longer than the fixed prefix width, or already registered.
func (r *Registry) Register(name string, inst PubKey, newFn NewPubKeyFunc) {
	if len(name) == 0 || len(name) > prefixSize {
		panic(fmt.Errorf("BUG: key type name %q must be 1-%d bytes", name, prefixSize))
	}

	if r.byPrefix == nil {
		r.byPrefix = map[string]NewPubKeyFunc{}
	}
	if _, ok := r.byPrefix[name]; ok {
		panic(fmt.Errorf("BUG: key type name %q registered twice", name))
	}
	r.byPrefix[name] = newFn

	if r.byType == nil {
		r.byType = map[reflect.Type]string{}
	}
	r.byType[reflect.TypeOf(inst)] = name
}

// Marshal returns the prefixed encoding of pubKey.
// It panics if the key's type was never registered.
func (r *Registry) Marshal(pubKey PubKey) []byte {
	var nameHeader [prefixSize]byte

	typ := reflect.TypeOf(pubKey)
	prefix, ok := r.byType[typ]
	if !ok {
		panic(fmt.Errorf(
			"BUG: attempted to Marshal a public key that was never registered (reflect type: %s, type name: %s)",
			typ, pubKey.TypeName(),
		))
	}

	copy(nameHeader[:], prefix)

	return append(nameHeader[:], pubKey.PubKeyBytes()...)
}

// Unmarshal returns a new public key based on b,
// which should be the result of a previous call to [*Registry.Marshal].
//
// Unlike Decode, the returned key does not retain a reference to b.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixSize {
		return nil, ShortKeyError{Len: len(b)}
	}

	prefix := bytes.TrimRight(b[:prefixSize], "\x00")

	fn := r.byPrefix[string(prefix)]
	if fn == nil {
		return nil, UnknownKeyTypeError{TypeName: string(prefix)}
	}

	return fn(bytes.Clone(b[prefixSize:]))
}

// Decode returns a new PubKey from the given type and public key bytes.
// It returns an error if the typeName was not previously registered,
// or if the registered [NewPubKeyFunc] itself returns an error.
//
// Callers must assume that the returned public key retains a reference to b,
// and therefore b must not be modified after calling Decode.
func (r *Registry) Decode(typeName string, b []byte) (PubKey, error) {
	fn := r.byPrefix[typeName]
	if fn == nil {
		return nil, UnknownKeyTypeError{TypeName: typeName}
	}

	return fn(b)
}
