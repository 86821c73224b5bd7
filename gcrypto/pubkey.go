package gcrypto

// PubKey is the public half of a signing key.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature of msg by this key.
	Verify(msg, sig []byte) bool

	// TypeName is the name the key type was registered under in a [Registry].
	TypeName() string
}
