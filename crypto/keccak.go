// Package crypto bundles the hash and signature primitives used by the
// prover: Keccak-256 for Ethereum hashing, MiMC over the BLS12-377 scalar
// field for the ZK trie, secp256k1 for proof-of-execution signatures and the
// KZG context for blob commitments.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"

	"github.com/teeprover/teeprover/types"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(Keccak256(data...))
}

// Sha256Hash calculates SHA-256 and returns it as a types.Hash.
func Sha256Hash(data ...[]byte) types.Hash {
	d := sha256.New()
	for _, b := range data {
		d.Write(b)
	}
	return types.BytesToHash(d.Sum(nil))
}

// EmptyKeccakCodeHash is the Keccak-256 hash of empty bytecode.
var EmptyKeccakCodeHash = Keccak256Hash(nil)
