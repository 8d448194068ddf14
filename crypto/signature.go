package crypto

import (
	"crypto/ecdsa"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/teeprover/teeprover/types"
)

// GenerateKey creates a fresh secp256k1 private key for the enclave signer.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return gethcrypto.GenerateKey()
}

// PubkeyToAddress derives the Ethereum address of a public key.
func PubkeyToAddress(pub *ecdsa.PublicKey) types.Address {
	return types.BytesToAddress(gethcrypto.PubkeyToAddress(*pub).Bytes())
}

// Sign produces a 65-byte [R || S || V] signature over a 32-byte digest.
func Sign(digest types.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	return gethcrypto.Sign(digest.Bytes(), key)
}

// RecoverAddress recovers the signer address from a 65-byte signature over
// the given digest.
func RecoverAddress(digest types.Hash, sig []byte) (types.Address, error) {
	if len(sig) != 65 {
		return types.Address{}, fmt.Errorf("crypto: signature length %d, want 65", len(sig))
	}
	pub, err := gethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return types.Address{}, err
	}
	return PubkeyToAddress(pub), nil
}
