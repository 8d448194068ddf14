// Package prover assembles proofs of execution: it resolves witnesses,
// re-executes blocks against the ZK trie, merges per-block proofs into a
// batch proof and signs it with the attested enclave key.
package prover

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// Poe is a proof of execution: the state transition of one block, or of a
// whole batch once merged and bound to the batch hash.
type Poe struct {
	BatchHash      types.Hash
	PrevStateRoot  types.Hash
	NewStateRoot   types.Hash
	WithdrawalRoot types.Hash
	Signature      []byte
}

// MergePoe folds per-block proofs into a batch proof. Each block's new state
// root must equal its successor's previous root; the merged proof spans the
// first previous root to the last new root and carries the batch hash.
func MergePoe(batchHash types.Hash, poes []*Poe) (*Poe, error) {
	if len(poes) == 0 {
		return nil, fmt.Errorf("prover: no per-block proofs to merge")
	}
	for i := 0; i+1 < len(poes); i++ {
		if poes[i].NewStateRoot != poes[i+1].PrevStateRoot {
			return nil, fmt.Errorf("prover: proof chain broken at block %d: %s != %s",
				i, poes[i].NewStateRoot, poes[i+1].PrevStateRoot)
		}
	}
	return &Poe{
		BatchHash:      batchHash,
		PrevStateRoot:  poes[0].PrevStateRoot,
		NewStateRoot:   poes[len(poes)-1].NewStateRoot,
		WithdrawalRoot: poes[len(poes)-1].WithdrawalRoot,
	}, nil
}

// Digest returns the signing digest binding every field of the proof.
func (p *Poe) Digest() types.Hash {
	return crypto.Keccak256Hash(
		p.BatchHash[:],
		p.PrevStateRoot[:],
		p.NewStateRoot[:],
		p.WithdrawalRoot[:],
	)
}

// ProverKey guards the enclave signing key. The attestation refresher swaps
// the key atomically once a new quote is approved on chain.
type ProverKey struct {
	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

// NewProverKey generates a fresh enclave key.
func NewProverKey() (*ProverKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &ProverKey{key: key}, nil
}

// Address returns the address of the current signing key.
func (k *ProverKey) Address() types.Address {
	k.mu.Lock()
	defer k.mu.Unlock()
	return crypto.PubkeyToAddress(&k.key.PublicKey)
}

// Rotate installs a new signing key.
func (k *ProverKey) Rotate(key *ecdsa.PrivateKey) {
	k.mu.Lock()
	k.key = key
	k.mu.Unlock()
}

// Sign signs the proof digest, attaching the signature to the proof.
func (k *ProverKey) Sign(p *Poe) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	sig, err := crypto.Sign(p.Digest(), k.key)
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

// RecoverPoeSigner recovers the signer address of a signed proof, mirroring
// the on-chain recoverPoe check.
func RecoverPoeSigner(p *Poe) (types.Address, error) {
	if len(p.Signature) == 0 {
		return types.Address{}, fmt.Errorf("prover: proof is unsigned")
	}
	return crypto.RecoverAddress(p.Digest(), p.Signature)
}
