// Package gcryptotest contains key helpers for tests.
package gcryptotest

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/gordian-engine/ggov/gcrypto"
	"golang.org/x/crypto/blake2b"
)

var (
	muEd             sync.Mutex
	generatedEd25519 []gcrypto.Ed25519Signer
)

// DeterministicEd25519Signers returns a deterministic slice of ed25519 signer values.
//
// Subsequent runs of the same test use the same keys,
// so logs involving keys do not change across runs.
// The i-th signer is always the same regardless of n.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	muEd.Lock()
	defer muEd.Unlock()

	for i := len(generatedEd25519); i < n; i++ {
		seed := blake2b.Sum256([]byte(fmt.Sprintf("ggov-test-ed25519|%d", i)))
		generatedEd25519 = append(
			generatedEd25519,
			gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:])),
		)
	}

	out := make([]gcrypto.Ed25519Signer, n)
	copy(out, generatedEd25519)
	return out
}
