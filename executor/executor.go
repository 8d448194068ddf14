package executor

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/log"
	"github.com/teeprover/teeprover/statedb"
	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

var logger = log.Module("executor")

// SpecID selects the EVM fork rules the external executor applies.
type SpecID uint8

const (
	SpecLondon SpecID = iota
	SpecShanghai
	SpecBernoulli
	SpecCurie
)

// Context is the per-block capability the prover hands to the executor:
// header fields, the transaction stream with canonical encodings, and the
// read-only database view anchored at the pre-state root.
type Context interface {
	DB() DatabaseRef
	SpecID() SpecID
	ChainID() uint64
	Number() uint64
	Coinbase() types.Address
	Timestamp() uint64
	GasLimit() uint64
	BaseFee() *uint256.Int // nil before the fee market
	Difficulty() *uint256.Int
	PrevRandao() *types.Hash
	Transactions() []*Transaction
	OldStateRoot() types.Hash
	StateRoot() types.Hash
	WithdrawalRoot() types.Hash
	BlockHash() types.Hash
	// ReceiptGasUsed returns the gas claimed by the reference receipt of the
	// tx at idx, if known.
	ReceiptGasUsed(idx int) (uint64, bool)
}

// BlockEnv is the block-level environment for the EVM.
type BlockEnv struct {
	Number     uint64
	Coinbase   types.Address
	Timestamp  uint64
	GasLimit   uint64
	BaseFee    *uint256.Int
	Difficulty *uint256.Int
	PrevRandao *types.Hash
	Spec       SpecID
	ChainID    uint64
}

// ExecutionResult is what the external EVM reports per transaction.
type ExecutionResult struct {
	GasUsed uint64
	Success bool
}

// EVM is the external executor. It consumes environments against a
// DatabaseRef and accumulates a write set the bridge later commits.
type EVM interface {
	ExecuteTransaction(block *BlockEnv, tx *TxEnv) (*ExecutionResult, error)
	// WriteSet returns the accumulated state changes after all transactions
	// of the block ran.
	WriteSet() WriteSet
}

// WriteSet maps touched addresses to their post-execution state.
type WriteSet map[types.Address]*AccountChange

// AccountChange is the post-state of one account. A nil Info marks the
// account as removed or never created.
type AccountChange struct {
	Info    *AccountInfo
	Storage map[types.Hash]types.Hash
}

// CommitState is the outcome of committing a block's write set.
type CommitState struct {
	NewStateRoot types.Hash
}

// BlockEnvFromContext assembles the EVM block environment.
func BlockEnvFromContext(ctx Context) *BlockEnv {
	return &BlockEnv{
		Number:     ctx.Number(),
		Coinbase:   ctx.Coinbase(),
		Timestamp:  ctx.Timestamp(),
		GasLimit:   ctx.GasLimit(),
		BaseFee:    ctx.BaseFee(),
		Difficulty: ctx.Difficulty(),
		PrevRandao: ctx.PrevRandao(),
		Spec:       ctx.SpecID(),
		ChainID:    ctx.ChainID(),
	}
}

// ExecuteBlock runs every transaction of the block through the EVM in order
// and commits the write set to the trie, returning the post-state root.
// Receipt gas mismatches are logged, not fatal: the reference receipt is the
// external truth.
func ExecuteBlock(ctx Context, evm EVM, cdb *ContextDB) (*CommitState, error) {
	blockEnv := BlockEnvFromContext(ctx)
	for idx, tx := range ctx.Transactions() {
		env, err := DeriveTxEnv(tx, ctx.ChainID(), ctx.BaseFee())
		if err != nil {
			return nil, err
		}
		result, err := evm.ExecuteTransaction(blockEnv, env)
		if err != nil {
			return nil, fmt.Errorf("executor: block %d tx %s: %w", ctx.Number(), tx.Hash(), err)
		}
		if want, ok := ctx.ReceiptGasUsed(idx); ok && want != result.GasUsed {
			logger.Warn("gas used mismatch",
				"block", ctx.Number(), "tx", tx.Hash().Hex(),
				"local", result.GasUsed, "receipt", want)
		}
	}
	return CommitChanges(cdb, ctx.OldStateRoot(), evm.WriteSet())
}

// CommitChanges applies a write set on top of oldRoot: accounts ordered by
// hashed key ascending, each account's storage writes ordered by hashed slot
// ascending, zero storage values removing their leaf and empty accounts
// removing their account leaf.
func CommitChanges(cdb *ContextDB, oldRoot types.Hash, changes WriteSet) (*CommitState, error) {
	trie := zktrie.NewZkTrie(oldRoot)

	type hashedAccount struct {
		hkey   types.Hash
		addr   types.Address
		change *AccountChange
	}
	accounts := make([]hashedAccount, 0, len(changes))
	for addr, change := range changes {
		hkey, err := statedb.AccountKey(addr.Bytes())
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, hashedAccount{hkey: hkey, addr: addr, change: change})
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].hkey.Cmp(accounts[j].hkey) < 0
	})

	for _, entry := range accounts {
		info := entry.change.Info
		if info == nil || info.IsEmpty() {
			// Removed account: drop the leaf. Removing an absent key is a
			// no-op.
			if err := trie.Remove(cdb.db, entry.hkey, entry.addr.Bytes()); err != nil {
				return nil, fmt.Errorf("executor: remove account %s: %w", entry.addr, err)
			}
			continue
		}
		acc, ok, err := cdb.GetAccount(entry.addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			acc = statedb.EmptyAccount()
		}
		acc.Balance = new(uint256.Int).Set(info.Balance)
		acc.Nonce = info.Nonce
		if acc.KeccakCodeHash != info.CodeHash {
			acc.MimcCodeHash = crypto.MimcCodeHash(info.Code)
			acc.KeccakCodeHash = info.CodeHash
			acc.CodeSize = uint64(len(info.Code))
		}

		if len(entry.change.Storage) > 0 {
			db := cdb.db.WithPrefix(entry.addr)
			storageTrie := zktrie.NewZkTrie(acc.StorageRoot)
			for _, write := range sortStorage(cdb, entry.addr, entry.change.Storage) {
				if !write.value.IsZero() {
					valueBytes := write.value.Bytes()
					hval, err := crypto.TrieHash(crypto.MimcSafeEncode(valueBytes))
					if err != nil {
						return nil, err
					}
					if err := storageTrie.Put(db, write.hkey, write.slot.Bytes(), hval, valueBytes); err != nil {
						return nil, fmt.Errorf("executor: commit storage %s[%s]: %w", entry.addr, write.slot, err)
					}
				} else if err := storageTrie.Remove(db, write.hkey, write.slot.Bytes()); err != nil {
					return nil, fmt.Errorf("executor: remove storage %s[%s]: %w", entry.addr, write.slot, err)
				}
			}
			acc.StorageRoot = storageTrie.TopRootHash()
		}

		val := acc.Encode()
		if statedb.IsEmptyAccount(acc) {
			if err := trie.Remove(cdb.db, entry.hkey, entry.addr.Bytes()); err != nil {
				return nil, fmt.Errorf("executor: remove account %s: %w", entry.addr, err)
			}
			continue
		}
		hval, err := crypto.TrieHash(acc.EncodeMimcSafe())
		if err != nil {
			return nil, err
		}
		if err := trie.Put(cdb.db, entry.hkey, entry.addr.Bytes(), hval, val); err != nil {
			return nil, fmt.Errorf("executor: commit account %s: %w", entry.addr, err)
		}
	}
	return &CommitState{NewStateRoot: trie.TopRootHash()}, nil
}

type storageWrite struct {
	hkey  types.Hash
	slot  types.Hash
	value types.StorageValue
}

// sortStorage orders an account's storage writes by hashed slot, skipping
// writes that restore the value the EVM read.
func sortStorage(cdb *ContextDB, addr types.Address, writes map[types.Hash]types.Hash) []storageWrite {
	out := make([]storageWrite, 0, len(writes))
	for slot, value := range writes {
		if old, ok := cdb.readValue(addr, slot); ok && old == value {
			continue
		}
		hkey, err := statedb.StorageSlotKey(slot.Bytes())
		if err != nil {
			continue
		}
		out = append(out, storageWrite{hkey: hkey, slot: slot, value: types.StorageValue(value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].hkey.Cmp(out[j].hkey) < 0 })
	return out
}
