package executor

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/statedb"
	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

// AccountInfo is the EVM-facing view of an account.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash types.Hash
	Code     []byte
}

// IsEmpty reports whether the info denotes a non-existent account.
func (i *AccountInfo) IsEmpty() bool {
	return i.Nonce == 0 && i.Balance.IsZero() && len(i.Code) == 0
}

// DatabaseRef is the read-only state view handed to the external EVM.
// Unknown storage reads answer zero and unknown accounts answer nil; an
// unknown block hash inside the lookback window is an error.
type DatabaseRef interface {
	Basic(addr types.Address) (*AccountInfo, error)
	Storage(addr types.Address, slot types.Hash) (types.Hash, error)
	BlockHash(number uint64) (types.Hash, error)
	CodeByHash(hash types.Hash) ([]byte, error)
}

// ContextDB implements DatabaseRef directly over the ZK trie at a fixed
// pre-state root. Storage reads are remembered so the commit phase can skip
// unchanged writes.
type ContextDB struct {
	root        types.Hash
	db          *zktrie.PrefixDB
	blockHashes map[uint64]types.Hash

	mu        sync.Mutex
	readCache map[storageKey]types.Hash
}

type storageKey struct {
	addr types.Address
	slot types.Hash
}

// NewContextDB opens a read view at the given account trie root.
func NewContextDB(root types.Hash, db *zktrie.PrefixDB, blockHashes map[uint64]types.Hash) *ContextDB {
	return &ContextDB{
		root:        root,
		db:          db,
		blockHashes: blockHashes,
		readCache:   make(map[storageKey]types.Hash),
	}
}

// Root returns the pre-state root the view is anchored at.
func (c *ContextDB) Root() types.Hash { return c.root }

// GetAccount reads the raw account record, reporting absence.
func (c *ContextDB) GetAccount(addr types.Address) (*types.Account, bool, error) {
	hkey, err := statedb.AccountKey(addr.Bytes())
	if err != nil {
		return nil, false, err
	}
	trie := zktrie.NewZkTrie(c.root)
	raw, ok, err := trie.Read(c.db, hkey, addr.Bytes())
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	acc, valid := types.DecodeAccount(raw)
	if !valid {
		return nil, false, fmt.Errorf("executor: malformed account leaf for %s", addr)
	}
	return acc, true, nil
}

// Basic implements DatabaseRef.
func (c *ContextDB) Basic(addr types.Address) (*AccountInfo, error) {
	acc, ok, err := c.GetAccount(addr)
	if err != nil || !ok {
		return nil, err
	}
	info := &AccountInfo{
		Balance:  new(uint256.Int).Set(acc.Balance),
		Nonce:    acc.Nonce,
		CodeHash: acc.KeccakCodeHash,
	}
	if acc.CodeSize > 0 {
		code, ok := c.db.GetCode(acc.KeccakCodeHash)
		if !ok {
			return nil, fmt.Errorf("%w: %s", statedb.ErrCodeNotFound, acc.KeccakCodeHash)
		}
		info.Code = code
	}
	return info, nil
}

// Storage implements DatabaseRef.
func (c *ContextDB) Storage(addr types.Address, slot types.Hash) (types.Hash, error) {
	acc, ok, err := c.GetAccount(addr)
	if err != nil {
		return types.Hash{}, err
	}
	var val types.Hash
	if ok {
		hkey, err := statedb.StorageSlotKey(slot.Bytes())
		if err != nil {
			return types.Hash{}, err
		}
		db := c.db.WithPrefix(addr)
		trie := zktrie.NewZkTrie(acc.StorageRoot)
		raw, present, err := trie.Read(db, hkey, slot.Bytes())
		if err != nil {
			return types.Hash{}, err
		}
		if present {
			val = types.BytesToHash(raw)
		}
	}
	c.mu.Lock()
	c.readCache[storageKey{addr: addr, slot: slot}] = val
	c.mu.Unlock()
	return val, nil
}

// BlockHash implements DatabaseRef.
func (c *ContextDB) BlockHash(number uint64) (types.Hash, error) {
	h, ok := c.blockHashes[number]
	if !ok {
		return types.Hash{}, fmt.Errorf("executor: unknown block hash for %d", number)
	}
	return h, nil
}

// CodeByHash implements DatabaseRef.
func (c *ContextDB) CodeByHash(hash types.Hash) ([]byte, error) {
	code, ok := c.db.GetCode(hash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", statedb.ErrCodeNotFound, hash)
	}
	return code, nil
}

// readValue returns the last value the EVM observed for a slot, if any.
func (c *ContextDB) readValue(addr types.Address, slot types.Hash) (types.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.readCache[storageKey{addr: addr, slot: slot}]
	return v, ok
}
