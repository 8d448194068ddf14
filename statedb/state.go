package statedb

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/log"
	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

var logger = log.Module("statedb")

// ErrCodeNotFound is returned when an account's bytecode is missing from the
// code store; callers must prefetch codes into the witness.
var ErrCodeNotFound = errors.New("statedb: code not found")

// AccountKey derives the account trie hashed key from an address.
func AccountKey(addr []byte) (types.Hash, error) {
	return crypto.TrieHash(addr)
}

// StorageSlotKey derives the storage trie hashed key from a 32-byte slot.
func StorageSlotKey(slot []byte) (types.Hash, error) {
	return crypto.MimcSafe(slot)
}

// EmptyAccount returns the canonical empty account: zero nonce and balance,
// the empty-trie storage root and the empty-code hashes.
func EmptyAccount() *types.Account {
	return types.NewAccount(zktrie.EmptyTrieRoot, crypto.EmptyMimcCodeHash, crypto.EmptyKeccakCodeHash)
}

// IsEmptyAccount reports whether acc equals EmptyAccount(): zero nonce,
// balance and code size, the empty-trie storage root and the empty-code hashes.
func IsEmptyAccount(acc *types.Account) bool {
	return acc.Equal(EmptyAccount())
}

func decodeAccount(buf []byte) (*types.Account, error) {
	if len(buf) == 0 {
		return EmptyAccount(), nil
	}
	acc, ok := types.DecodeAccount(buf)
	if !ok {
		return nil, fmt.Errorf("statedb: malformed account leaf (%d bytes)", len(buf))
	}
	return acc, nil
}

func encodeAccount(acc *types.Account) (types.Hash, []byte, bool, error) {
	if IsEmptyAccount(acc) {
		return types.Hash{}, nil, true, nil
	}
	safe := acc.EncodeMimcSafe()
	hval, err := crypto.TrieHash(safe)
	if err != nil {
		return types.Hash{}, nil, false, err
	}
	return hval, acc.Encode(), false, nil
}

func decodeStorage(buf []byte) (*types.StorageValue, error) {
	v := types.DecodeStorageValue(buf)
	return &v, nil
}

func encodeStorage(v *types.StorageValue) (types.Hash, []byte, bool, error) {
	if v.IsZero() {
		return types.Hash{}, nil, true, nil
	}
	hval, err := crypto.TrieHash(crypto.MimcSafeEncode(v.Bytes()))
	if err != nil {
		return types.Hash{}, nil, false, err
	}
	return hval, v.Trimmed(), false, nil
}

// NewAccountTrie opens the typed account trie at root.
func NewAccountTrie(root types.Hash) *ValueTrie[*types.Account] {
	return NewValueTrie(root, AccountKey, decodeAccount, encodeAccount)
}

// NewStorageTrie opens a typed per-account storage trie at root.
func NewStorageTrie(root types.Hash) *ValueTrie[*types.StorageValue] {
	return NewValueTrie(root, StorageSlotKey, decodeStorage, encodeStorage)
}

// ZkTrieState is the two-level state: an account cache over the account trie
// and one storage cache per touched account, all sharing a PrefixDB-viewed
// node store.
type ZkTrieState struct {
	db       *zktrie.PrefixDB
	accounts *TrieCache[types.Address, *types.Account]
	storages map[types.Address]*TrieCache[types.Hash, *types.StorageValue]
}

// NewZkTrieState opens the state at the given account trie root.
func NewZkTrieState(db *zktrie.PrefixDB, root types.Hash) *ZkTrieState {
	return &ZkTrieState{
		db: db,
		accounts: NewTrieCache(NewAccountTrie(root), func(a types.Address) []byte {
			return a.Bytes()
		}),
		storages: make(map[types.Address]*TrieCache[types.Hash, *types.StorageValue]),
	}
}

func (s *ZkTrieState) withAccount(addr types.Address, f func(ctx *CacheCtx[*types.Account])) error {
	return s.accounts.WithKey(s.db, addr, f)
}

func (s *ZkTrieState) withStorage(addr types.Address, slot types.Hash, f func(ctx *CacheCtx[*types.StorageValue])) error {
	var root types.Hash
	if err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		root = ctx.Val.StorageRoot
	}); err != nil {
		return err
	}
	storage, ok := s.storages[addr]
	if !ok {
		storage = NewTrieCache(NewStorageTrie(root), func(h types.Hash) []byte {
			return h.Bytes()
		})
		s.storages[addr] = storage
	}
	// The cached sub-trie can lag behind the account record after a revert;
	// reconcile before touching slots.
	if storage.RootHash() != root {
		storage.Revert(root)
	}
	storageDB := s.db.WithPrefix(addr)
	if err := storage.WithKey(storageDB, slot, f); err != nil {
		return err
	}
	if storage.IsDirty(slot) {
		// The account's storage root will change on flush.
		return s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
			*ctx.Dirty = true
		})
	}
	return nil
}

// Exist reports whether the account differs from the empty default.
func (s *ZkTrieState) Exist(addr types.Address) (bool, error) {
	var exist bool
	err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		exist = !IsEmptyAccount(ctx.Val)
	})
	return exist, err
}

// GetBalance returns the account balance.
func (s *ZkTrieState) GetBalance(addr types.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		out = new(uint256.Int).Set(ctx.Val.Balance)
	})
	return out, err
}

// SetBalance overwrites the account balance.
func (s *ZkTrieState) SetBalance(addr types.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		if !ctx.Val.Balance.Eq(val) {
			ctx.Val.Balance.Set(val)
			*ctx.Dirty = true
		}
	})
}

// AddBalance credits the account.
func (s *ZkTrieState) AddBalance(addr types.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		ctx.Val.Balance.Add(ctx.Val.Balance, val)
		*ctx.Dirty = true
	})
}

// SubBalance debits the account.
func (s *ZkTrieState) SubBalance(addr types.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		ctx.Val.Balance.Sub(ctx.Val.Balance, val)
		*ctx.Dirty = true
	})
}

// GetNonce returns the account nonce.
func (s *ZkTrieState) GetNonce(addr types.Address) (uint64, error) {
	var out uint64
	err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		out = ctx.Val.Nonce
	})
	return out, err
}

// SetNonce overwrites the account nonce.
func (s *ZkTrieState) SetNonce(addr types.Address, val uint64) error {
	return s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		if ctx.Val.Nonce != val {
			ctx.Val.Nonce = val
			*ctx.Dirty = true
		}
	})
}

// GetCode returns the account bytecode. A zero code size short-circuits to
// empty bytes without touching the code store.
func (s *ZkTrieState) GetCode(addr types.Address) ([]byte, error) {
	var codeHash types.Hash
	var codeSize uint64
	if err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		codeHash = ctx.Val.KeccakCodeHash
		codeSize = ctx.Val.CodeSize
	}); err != nil {
		return nil, err
	}
	if codeSize == 0 {
		return nil, nil
	}
	code, ok := s.db.GetCode(codeHash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, codeHash)
	}
	return code, nil
}

// SetCode installs bytecode: the raw bytes are stored under both the Keccak
// and the MiMC code hash, and the account records both plus the code size.
func (s *ZkTrieState) SetCode(addr types.Address, code []byte) error {
	return s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		hash := crypto.Keccak256Hash(code)
		if ctx.Val.KeccakCodeHash == hash {
			return
		}
		ctx.Val.KeccakCodeHash = hash
		ctx.Val.MimcCodeHash = crypto.MimcCodeHash(code)
		ctx.Val.CodeSize = uint64(len(code))
		ctx.DB.SetCode(hash, code)
		ctx.DB.SetCode(ctx.Val.MimcCodeHash, code)
		*ctx.Dirty = true
	})
}

// GetState reads a storage word.
func (s *ZkTrieState) GetState(addr types.Address, slot types.Hash) (types.StorageValue, error) {
	var out types.StorageValue
	err := s.withStorage(addr, slot, func(ctx *CacheCtx[*types.StorageValue]) {
		out = *ctx.Val
	})
	return out, err
}

// SetState writes a storage word; the zero word deletes the slot.
func (s *ZkTrieState) SetState(addr types.Address, slot types.Hash, value types.StorageValue) error {
	return s.withStorage(addr, slot, func(ctx *CacheCtx[*types.StorageValue]) {
		if *ctx.Val != value {
			*ctx.Val = value
			*ctx.Dirty = true
		}
	})
}

// Suicide resets the account to its empty default and drops the storage
// cache: the sub-trie becomes unreachable once the record is gone.
func (s *ZkTrieState) Suicide(addr types.Address) error {
	if err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		if !IsEmptyAccount(ctx.Val) {
			*ctx.Val = *EmptyAccount()
			*ctx.Dirty = true
		}
	}); err != nil {
		return err
	}
	delete(s.storages, addr)
	return nil
}

// Flush commits dirty storage sub-tries first, folds each new sub-root into
// its account record, then commits the account trie. Reduction nodes from
// either phase are surfaced for the caller to fetch before retrying; the
// returned root is only final once the reduction list is empty.
func (s *ZkTrieState) Flush() (types.Hash, []types.Hash, error) {
	var reductions []types.Hash
	for addr, storage := range s.storages {
		if storage.DirtyCount() == 0 {
			continue
		}
		storageDB := s.db.WithPrefix(addr)
		missing, err := storage.Flush(storageDB)
		if err != nil {
			return types.Hash{}, reductions, err
		}
		if len(missing) > 0 {
			reductions = append(reductions, missing...)
			continue
		}
		newRoot := storage.RootHash()
		if err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
			if ctx.Val.StorageRoot != newRoot {
				ctx.Val.StorageRoot = newRoot
				*ctx.Dirty = true
			}
		}); err != nil {
			return types.Hash{}, reductions, err
		}
	}

	missing, err := s.accounts.Flush(s.db)
	if err != nil {
		return types.Hash{}, reductions, err
	}
	reductions = append(reductions, missing...)
	if len(reductions) > 0 {
		logger.Debug("flush incomplete", "reduction_nodes", len(reductions))
	}
	return s.accounts.RootHash(), reductions, nil
}

// Revert resets the account cache to the given root and drops all storage
// caches.
func (s *ZkTrieState) Revert(root types.Hash) {
	s.accounts.Revert(root)
	s.storages = make(map[types.Address]*TrieCache[types.Hash, *types.StorageValue])
}

// RootHash returns the account trie root as of the last flush.
func (s *ZkTrieState) RootHash() types.Hash {
	return s.accounts.RootHash()
}
