// Package gcmd contains helpers shared by the command line tools.
package gcmd

import (
	"crypto/ed25519"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/blake2b"

	"github.com/gordian-engine/ggov/gcrypto"
)

// Key derivation prefixes, so the validator and network keys
// from one passphrase are unrelated.
const (
	ValidatorKeyPrefix = "ggov|"
	NetworkKeyPrefix   = "ggov:network|"
)

func seedFromInsecurePassphrase(prefix, insecurePassphrase string) ([]byte, error) {
	bh, err := blake2b.New(ed25519.SeedSize, nil)
	if err != nil {
		return nil, err
	}
	bh.Write([]byte(prefix + insecurePassphrase))
	return bh.Sum(nil), nil
}

// SignerFromInsecurePassphrase derives an ed25519 signer from prefix and the passphrase.
func SignerFromInsecurePassphrase(prefix, insecurePassphrase string) (gcrypto.Ed25519Signer, error) {
	seed, err := seedFromInsecurePassphrase(prefix, insecurePassphrase)
	if err != nil {
		return gcrypto.Ed25519Signer{}, err
	}

	return gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

// Libp2pKeyFromInsecurePassphrase derives a libp2p host key from prefix and the passphrase.
func Libp2pKeyFromInsecurePassphrase(prefix, insecurePassphrase string) (libp2pcrypto.PrivKey, error) {
	seed, err := seedFromInsecurePassphrase(prefix, insecurePassphrase)
	if err != nil {
		return nil, err
	}

	privKey := ed25519.NewKeyFromSeed(seed)

	priv, _, err := libp2pcrypto.KeyPairFromStdKey(&privKey)
	if err != nil {
		return nil, err
	}

	return priv, nil
}
