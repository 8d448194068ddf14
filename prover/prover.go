package prover

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/batch"
	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/executor"
	"github.com/teeprover/teeprover/log"
	"github.com/teeprover/teeprover/metrics"
	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

var logger = log.Module("prover")

// MerkleProof is one inclusion or non-inclusion witness proof.
type MerkleProof struct {
	Key          []byte
	Inclusion    *InclusionProof
	NonInclusion *NonInclusionProof
}

// InclusionProof proves a present key: the leaf index, the raw value and the
// 42 sibling encodings from root to leaf.
type InclusionProof struct {
	LeafIndex uint64
	Value     []byte
	Siblings  [][]byte
}

// NonInclusionProof proves an absent key through its two linked-list
// neighbors.
type NonInclusionProof struct {
	LeftLeafIndex  uint64
	RightLeafIndex uint64
	LeftSiblings   [][]byte
	RightSiblings  [][]byte
}

// AccountProof bundles an account proof with its storage slot proofs.
type AccountProof struct {
	Proof   MerkleProof
	Storage []MerkleProof
}

// BuildMemDB materializes the node store for a block range: witness nodes
// are installed directly, codes stored under their Keccak hash, and every
// account/storage proof replayed into the nearest-keys index.
func BuildMemDB(pobs []*Pob, proofs []AccountProof) (*zktrie.MemStore, error) {
	store := zktrie.NewMemStore()
	for _, pob := range pobs {
		for _, raw := range pob.Data.MptNodes {
			node, err := zktrie.DecodeNode(raw)
			if err != nil {
				return nil, WrapRPC(CodeWitnessBuildError, err)
			}
			db := zktrie.NewPrefixDB(types.Address{}, store)
			if _, err := db.UpdateNode(node); err != nil {
				return nil, WrapRPC(CodeWitnessBuildError, err)
			}
		}
		store.AddCodes(pob.Data.Codes, func(b []byte) types.Hash { return crypto.Keccak256Hash(b) })
	}

	for i := range proofs {
		proof := &proofs[i]
		key := proof.Proof.Key
		hkey, err := crypto.TrieHash(key)
		if err != nil {
			return nil, WrapRPC(CodeWitnessBuildError, err)
		}
		owner := types.BytesToAddress(key)
		if err := replayProof(store, types.Address{}, hkey, &proof.Proof); err != nil {
			return nil, WrapRPC(CodeWitnessBuildError, err)
		}
		for j := range proof.Storage {
			slotProof := &proof.Storage[j]
			slotHKey, err := crypto.MimcSafe(slotProof.Key)
			if err != nil {
				return nil, WrapRPC(CodeWitnessBuildError, err)
			}
			if err := replayProof(store, owner, slotHKey, slotProof); err != nil {
				return nil, WrapRPC(CodeWitnessBuildError, err)
			}
		}
	}
	return store, nil
}

func replayProof(store *zktrie.MemStore, owner types.Address, hkey types.Hash, proof *MerkleProof) error {
	switch {
	case proof.Inclusion != nil:
		_, err := store.AddInclusionProof(owner, proof.Inclusion.LeafIndex, proof.Key, hkey,
			proof.Inclusion.Value, proof.Inclusion.Siblings)
		return err
	case proof.NonInclusion != nil:
		_, err := store.AddNonInclusionProof(owner,
			proof.NonInclusion.LeftLeafIndex, proof.NonInclusion.RightLeafIndex,
			proof.Key, hkey,
			proof.NonInclusion.LeftSiblings, proof.NonInclusion.RightSiblings)
		return err
	default:
		return fmt.Errorf("prover: proof for key %x is neither inclusion nor non-inclusion", proof.Key)
	}
}

// PobContext exposes one witness block as an executor context.
type PobContext struct {
	Pob *Pob
	db  *executor.ContextDB
	txs []*executor.Transaction
}

// NewPobContext decodes the witness transactions and anchors the database
// view at the witness pre-state root.
func NewPobContext(pob *Pob, store *zktrie.MemStore) (*PobContext, error) {
	txs := make([]*executor.Transaction, 0, len(pob.Block.Transactions))
	for _, raw := range pob.Block.Transactions {
		tx, err := executor.DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	db := executor.NewContextDB(pob.Data.PrevStateRoot,
		zktrie.NewPrefixDB(types.Address{}, store), pob.Data.BlockHashes)
	return &PobContext{Pob: pob, db: db, txs: txs}, nil
}

// ContextDB returns the trie-backed database view.
func (c *PobContext) ContextDB() *executor.ContextDB { return c.db }

// DB implements executor.Context.
func (c *PobContext) DB() executor.DatabaseRef { return c.db }

// SpecID implements executor.Context.
func (c *PobContext) SpecID() executor.SpecID { return executor.SpecLondon }

// ChainID implements executor.Context.
func (c *PobContext) ChainID() uint64 { return c.Pob.Data.ChainID }

// Number implements executor.Context.
func (c *PobContext) Number() uint64 { return c.Pob.Block.Number }

// Coinbase implements executor.Context. A witness-supplied coinbase (clique
// signer recovered upstream) overrides the header miner.
func (c *PobContext) Coinbase() types.Address {
	if c.Pob.Data.Coinbase != nil {
		return *c.Pob.Data.Coinbase
	}
	return c.Pob.Block.Miner
}

// Timestamp implements executor.Context.
func (c *PobContext) Timestamp() uint64 { return c.Pob.Block.Timestamp }

// GasLimit implements executor.Context.
func (c *PobContext) GasLimit() uint64 { return c.Pob.Block.GasLimit }

// BaseFee implements executor.Context.
func (c *PobContext) BaseFee() *uint256.Int {
	if c.Pob.Block.BaseFeePerGas == nil {
		return nil
	}
	return new(uint256.Int).SetBytes(c.Pob.Block.BaseFeePerGas.Bytes())
}

// Difficulty implements executor.Context.
func (c *PobContext) Difficulty() *uint256.Int {
	return new(uint256.Int).SetBytes(c.Pob.Block.Difficulty.Bytes())
}

// PrevRandao implements executor.Context.
func (c *PobContext) PrevRandao() *types.Hash {
	mix := c.Pob.Block.MixHash
	return &mix
}

// Transactions implements executor.Context.
func (c *PobContext) Transactions() []*executor.Transaction { return c.txs }

// OldStateRoot implements executor.Context.
func (c *PobContext) OldStateRoot() types.Hash { return c.Pob.Data.PrevStateRoot }

// StateRoot implements executor.Context.
func (c *PobContext) StateRoot() types.Hash { return c.Pob.Block.StateRoot }

// WithdrawalRoot implements executor.Context.
func (c *PobContext) WithdrawalRoot() types.Hash { return c.Pob.Data.WithdrawalRoot }

// BlockHash implements executor.Context.
func (c *PobContext) BlockHash() types.Hash { return c.Pob.Block.BlockHash }

// ReceiptGasUsed implements executor.Context. Witnesses carry no receipts;
// gas verification happens upstream where receipts are available.
func (c *PobContext) ReceiptGasUsed(idx int) (uint64, bool) { return 0, false }

// batchBlock converts the context into the codec's block form.
func (c *PobContext) batchBlock() batch.Block {
	blk := batch.Block{
		Number:    c.Number(),
		Timestamp: c.Timestamp(),
		BaseFee:   c.BaseFee(),
		GasLimit:  c.GasLimit(),
		Hash:      c.BlockHash(),
	}
	for _, tx := range c.txs {
		blk.Txs = append(blk.Txs, batch.Tx{
			L1Msg: tx.IsL1Message(),
			Nonce: tx.Nonce(),
			Hash:  tx.Hash(),
			RLP:   tx.RLP(),
		})
	}
	return blk
}

// EVMFactory builds an external EVM instance for one block's database view.
type EVMFactory func(db executor.DatabaseRef) executor.EVM

// Prover drives the full pipeline: witness resolution, block re-execution,
// batch sealing and proof signing.
type Prover struct {
	key    *ProverKey
	cache  *WitnessCache
	fork   batch.HardforkConfig
	newEVM EVMFactory

	// withdrawalContract, when set, enables verifying the witness withdrawal
	// root against the contract's post-state storage root.
	withdrawalContract *types.Address
}

// SetWithdrawalContract configures the message-queue contract whose storage
// root is the chain's withdrawal root.
func (p *Prover) SetWithdrawalContract(addr types.Address) {
	p.withdrawalContract = &addr
}

// NewProver assembles a prover with a fresh enclave key.
func NewProver(fork batch.HardforkConfig, newEVM EVMFactory) (*Prover, error) {
	key, err := NewProverKey()
	if err != nil {
		return nil, err
	}
	return &Prover{
		key:    key,
		cache:  NewWitnessCache(WitnessCacheTTL),
		fork:   fork,
		newEVM: newEVM,
	}, nil
}

// Key exposes the guarded signing key.
func (p *Prover) Key() *ProverKey { return p.key }

// WitnessCache exposes the TTL witness cache.
func (p *Prover) WitnessCache() *WitnessCache { return p.cache }

// Prove re-executes the batch described by the commit calldata over the
// given witnesses and returns the signed batch proof. Blocks run in
// ascending number order; every block's post-state root must match its
// witness and chain into its successor.
func (p *Prover) Prove(ctx context.Context, pobs []*Pob, proofs []AccountProof, batchCalldata []byte) (*Poe, error) {
	start := time.Now()
	task, err := batch.TaskFromCalldata(batchCalldata)
	if err != nil {
		return nil, WrapRPC(CodeBatchParseError, err)
	}
	builder, err := batch.NewBuilder(p.fork, task.Parent, task.Chunks)
	if err != nil {
		return nil, WrapRPC(CodeBatchParseError, err)
	}

	store, err := BuildMemDB(pobs, proofs)
	if err != nil {
		return nil, err
	}

	sorted := append([]*Pob(nil), pobs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Block.Number < sorted[j].Block.Number
	})

	poes := make([]*Poe, 0, len(sorted))
	for _, pob := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pctx, err := NewPobContext(pob, store)
		if err != nil {
			return nil, WrapRPC(CodeProveError, err)
		}
		if err := builder.AddBlock(pctx.batchBlock()); err != nil {
			return nil, WrapRPC(CodeBatchParseError, err)
		}
		evm := p.newEVM(pctx.DB())
		commit, err := executor.ExecuteBlock(pctx, evm, pctx.ContextDB())
		if err != nil {
			return nil, WrapRPC(CodeProveError, err)
		}
		if commit.NewStateRoot != pctx.StateRoot() {
			return nil, WrapRPC(CodeProveError, &StateRootMismatchError{
				Local:  commit.NewStateRoot,
				Remote: pctx.StateRoot(),
			})
		}
		if p.withdrawalContract != nil {
			post := executor.NewContextDB(commit.NewStateRoot,
				zktrie.NewPrefixDB(types.Address{}, store), nil)
			acc, ok, err := post.GetAccount(*p.withdrawalContract)
			if err != nil {
				return nil, WrapRPC(CodeProveError, err)
			}
			local := zktrie.EmptyTrieRoot
			if ok {
				local = acc.StorageRoot
			}
			if local != pctx.WithdrawalRoot() {
				return nil, WrapRPC(CodeProveError, &WithdrawalRootMismatchError{
					Local:  local,
					Remote: pctx.WithdrawalRoot(),
				})
			}
		}
		poes = append(poes, &Poe{
			PrevStateRoot:  pctx.OldStateRoot(),
			NewStateRoot:   commit.NewStateRoot,
			WithdrawalRoot: pctx.WithdrawalRoot(),
		})
	}

	header, err := builder.Build(task.Parent)
	if err != nil {
		return nil, WrapRPC(CodeBatchParseError, err)
	}
	poe, err := MergePoe(header.Hash(), poes)
	if err != nil {
		return nil, WrapRPC(CodeProveError, err)
	}
	if err := p.key.Sign(poe); err != nil {
		return nil, WrapRPC(CodeProveError, err)
	}

	metrics.Inc("prover.batches_proven", 1)
	logger.Info("batch proven",
		"batch", task.ID(), "blocks", len(sorted),
		"elapsed", time.Since(start).String())
	return poe, nil
}
