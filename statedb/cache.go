// Package statedb layers the address/slot caches over the ZK trie: a generic
// write-through TrieCache per trie-backed map and the ZkTrieState composing
// the account trie with the per-account storage sub-tries.
package statedb

import (
	"errors"
	"sort"

	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

// ValueTrie adapts a ZkTrie to a typed key/value map: it hashes raw keys,
// decodes leaf payloads into values and encodes values back into leaf
// updates.
type ValueTrie[V any] struct {
	trie    *zktrie.ZkTrie
	hashKey func([]byte) (types.Hash, error)
	decode  func([]byte) (V, error)
	// encode returns the hashed value, the raw leaf payload and whether the
	// value is empty (empty values remove the leaf).
	encode func(V) (types.Hash, []byte, bool, error)
}

// NewValueTrie builds a typed view over a trie root.
func NewValueTrie[V any](
	root types.Hash,
	hashKey func([]byte) (types.Hash, error),
	decode func([]byte) (V, error),
	encode func(V) (types.Hash, []byte, bool, error),
) *ValueTrie[V] {
	return &ValueTrie[V]{
		trie:    zktrie.NewZkTrie(root),
		hashKey: hashKey,
		decode:  decode,
		encode:  encode,
	}
}

// RootHash returns the current top root.
func (t *ValueTrie[V]) RootHash() types.Hash { return t.trie.TopRootHash() }

// Reset reopens the view at another root.
func (t *ValueTrie[V]) Reset(root types.Hash) {
	t.trie = zktrie.NewZkTrie(root)
}

// Get reads the value for key, materializing the type's default (decode of
// nil) when the trie holds no leaf.
func (t *ValueTrie[V]) Get(db zktrie.Database, key []byte) (V, error) {
	v, _, err := t.TryGet(db, key)
	return v, err
}

// TryGet reads the value for key, reporting absence instead of defaulting.
// The returned value on absence is still the decoded default so callers can
// use it directly.
func (t *ValueTrie[V]) TryGet(db zktrie.Database, key []byte) (V, bool, error) {
	var zero V
	hkey, err := t.hashKey(key)
	if err != nil {
		return zero, false, err
	}
	raw, ok, err := t.trie.Read(db, hkey, key)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		v, err := t.decode(nil)
		return v, false, err
	}
	v, err := t.decode(raw)
	return v, true, err
}

// Update writes or removes the leaf for key depending on the encoded value.
func (t *ValueTrie[V]) Update(db zktrie.Database, key []byte, v V) error {
	hkey, err := t.hashKey(key)
	if err != nil {
		return err
	}
	hval, raw, empty, err := t.encode(v)
	if err != nil {
		return err
	}
	if empty {
		return t.trie.Remove(db, hkey, key)
	}
	return t.trie.Put(db, hkey, key, hval, raw)
}

// CacheCtx is handed to WithKey callbacks: the live value, the dirty flag to
// raise when the value was mutated, and the backing database for side
// lookups such as the code store.
type CacheCtx[V any] struct {
	Val   V
	Dirty *bool
	DB    zktrie.Database
}

// TrieCache is the write-through cache over a typed trie: materialized live
// values plus the set of keys whose value diverges from the trie.
type TrieCache[K comparable, V any] struct {
	trie     *ValueTrie[V]
	keyBytes func(K) []byte
	cache    map[K]V
	dirty    map[K]struct{}
}

// NewTrieCache builds a cache over a typed trie.
func NewTrieCache[K comparable, V any](trie *ValueTrie[V], keyBytes func(K) []byte) *TrieCache[K, V] {
	return &TrieCache[K, V]{
		trie:     trie,
		keyBytes: keyBytes,
		cache:    make(map[K]V),
		dirty:    make(map[K]struct{}),
	}
}

// RootHash returns the trie root the cache is layered over. Dirty values are
// not reflected until Flush.
func (c *TrieCache[K, V]) RootHash() types.Hash { return c.trie.RootHash() }

// MarkDirty forces a key into the dirty set.
func (c *TrieCache[K, V]) MarkDirty(k K) {
	c.dirty[k] = struct{}{}
}

// IsDirty reports whether a key is in the dirty set.
func (c *TrieCache[K, V]) IsDirty(k K) bool {
	_, ok := c.dirty[k]
	return ok
}

// DirtyCount returns the number of dirty keys.
func (c *TrieCache[K, V]) DirtyCount() int { return len(c.dirty) }

// Revert clears the cache and dirty set and reopens the trie at root. It is
// a no-op iff the trie already has that root and nothing is dirty.
func (c *TrieCache[K, V]) Revert(root types.Hash) bool {
	if c.trie.RootHash() == root && len(c.dirty) == 0 {
		return false
	}
	c.cache = make(map[K]V)
	c.dirty = make(map[K]struct{})
	c.trie.Reset(root)
	return true
}

// WithKey runs f against the live value for k, materializing the default
// when the trie holds no entry. If f raises the dirty flag the key joins the
// dirty set.
func (c *TrieCache[K, V]) WithKey(db zktrie.Database, k K, f func(ctx *CacheCtx[V])) error {
	v, ok := c.cache[k]
	if !ok {
		var err error
		v, err = c.trie.Get(db, c.keyBytes(k))
		if err != nil {
			return err
		}
		c.cache[k] = v
	}
	return c.apply(db, k, v, f)
}

// TryWithKey is WithKey except it reports absence instead of materializing a
// default for keys the trie does not hold.
func (c *TrieCache[K, V]) TryWithKey(db zktrie.Database, k K, f func(ctx *CacheCtx[V])) (bool, error) {
	v, ok := c.cache[k]
	if !ok {
		var present bool
		var err error
		v, present, err = c.trie.TryGet(db, c.keyBytes(k))
		if err != nil {
			return false, err
		}
		if !present {
			return false, nil
		}
		c.cache[k] = v
	}
	return true, c.apply(db, k, v, f)
}

func (c *TrieCache[K, V]) apply(db zktrie.Database, k K, v V, f func(ctx *CacheCtx[V])) error {
	dirty := false
	f(&CacheCtx[V]{Val: v, Dirty: &dirty, DB: db})
	if dirty {
		c.dirty[k] = struct{}{}
	}
	return nil
}

// Flush writes every dirty value through to the trie in key-byte order.
// Hashes of nodes the database could not resolve (reduction nodes) are
// collected and returned for the caller to fetch and retry; their keys stay
// dirty. Any other error aborts the flush.
func (c *TrieCache[K, V]) Flush(db zktrie.Database) ([]types.Hash, error) {
	keys := make([]K, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareBytes(c.keyBytes(keys[i]), c.keyBytes(keys[j])) < 0
	})

	var missing []types.Hash
	for _, k := range keys {
		v := c.cache[k]
		if err := c.trie.Update(db, c.keyBytes(k), v); err != nil {
			var nf *zktrie.NodeNotFoundError
			if errors.As(err, &nf) {
				missing = append(missing, nf.Hash)
				continue
			}
			return missing, err
		}
		delete(c.dirty, k)
	}
	return missing, nil
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return len(a) - len(b)
}
