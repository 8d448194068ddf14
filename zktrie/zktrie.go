package zktrie

import (
	"github.com/teeprover/teeprover/types"
)

// ZkTrie layers the leaf-opening linked list over the sparse trie: keys are
// hashed into field elements, leaves hold (prev, next, hkey, hval) openings
// ordered by hkey, and the append counter in the synthetic root assigns leaf
// indices. Raw key values live in the database's flattened-leaf index, not in
// the Merkleized content.
type ZkTrie struct {
	state SparseMerkleTrie
}

// NewZkTrie opens a trie at the given top root hash.
func NewZkTrie(root types.Hash) *ZkTrie {
	return &ZkTrie{state: NewSparseMerkleTrie(root)}
}

// NewEmptyZkTrie builds a usable empty trie: the depth-40 empty chain with
// the head sentinel installed at leaf index 0, the tail sentinel at index 1
// and the next-free counter at 2.
func NewEmptyZkTrie(db Database) (*ZkTrie, error) {
	top, nodes := InitWorldState()
	for _, n := range nodes {
		if _, err := db.UpdateNode(n); err != nil {
			return nil, err
		}
	}
	trie := NewZkTrie(top.Hash())
	if err := trie.setHeadAndTail(db); err != nil {
		return nil, err
	}
	return trie, nil
}

func (t *ZkTrie) setHeadAndTail(db Database) error {
	head := HeadLeafOpening()
	headPath := LeafPath(0)
	if err := t.state.Put(db, headPath[:], head.Bytes()); err != nil {
		return err
	}
	db.UpdateIndex(head.HKey, HeadFlattenedLeaf())
	if _, err := t.incrementNextFreeNode(db); err != nil {
		return err
	}

	tail := TailLeafOpening()
	tailPath := LeafPath(1)
	db.UpdateIndex(tail.HKey, TailFlattenedLeaf())
	if err := t.state.Put(db, tailPath[:], tail.Bytes()); err != nil {
		return err
	}
	if _, err := t.incrementNextFreeNode(db); err != nil {
		return err
	}
	return nil
}

// TopRootHash returns the authenticated root binding counter and sub-root.
func (t *ZkTrie) TopRootHash() types.Hash {
	return t.state.RootHash()
}

// SubRootHash returns the root of the sparse trie below the counter.
func (t *ZkTrie) SubRootHash(db Database) (types.Hash, error) {
	return t.state.SubRootHash(db)
}

// NextFreeNode returns the next unassigned leaf index.
func (t *ZkTrie) NextFreeNode(db Database) (uint64, error) {
	return t.state.NextFreeNode(db)
}

func (t *ZkTrie) incrementNextFreeNode(db Database) (uint64, error) {
	current, err := t.state.NextFreeNode(db)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := t.state.SetNextFreeNode(db, next); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *ZkTrie) parseLeafOpening(db Database, path []byte) (LeafOpening, error) {
	n, err := t.state.GetNode(db, path)
	if err != nil {
		return LeafOpening{}, err
	}
	if n == nil {
		return LeafOpening{}, ErrKeyNotFound
	}
	value, ok := n.Value()
	if !ok {
		return LeafOpening{}, &InvalidNodeError{Reason: "expected terminal node on leaf path"}
	}
	return ParseLeafOpening(value)
}

// Read returns the raw value bound to key, or ok=false for proven absence.
func (t *ZkTrie) Read(db Database, hkey types.Hash, key []byte) ([]byte, bool, error) {
	r, err := db.GetNearestKeys(t.TopRootHash(), hkey)
	if err != nil {
		return nil, false, err
	}
	if r.Center == nil {
		return nil, false, nil
	}
	return r.Center.LeafValue, true, nil
}

// Put inserts or updates key with the given hashed key/value pair and raw
// value. Inserting splices a new leaf between its linked-list neighbors and
// advances the next-free counter; updating rewrites the opening's hval in
// place.
func (t *ZkTrie) Put(db Database, hkey types.Hash, key []byte, hval types.Hash, value []byte) error {
	r, err := db.GetNearestKeys(t.TopRootHash(), hkey)
	if err != nil {
		return err
	}
	if r.Center != nil {
		// Update in place at the existing leaf index.
		leafPath := r.Center.LeafPath()
		db.UpdateIndex(hkey, FlattenedLeaf{LeafIndex: r.Center.LeafIndex, LeafValue: value})
		prior, err := t.parseLeafOpening(db, leafPath[:])
		if err != nil {
			return err
		}
		return t.state.Put(db, leafPath[:], prior.WithHVal(hval).Bytes())
	}

	leftPath := LeafPath(r.LeftIndex)
	rightPath := LeafPath(r.RightIndex)
	nextFree, err := t.state.NextFreeNode(db)
	if err != nil {
		return err
	}

	// Point the predecessor's next at the new index.
	priorLeft, err := t.parseLeafOpening(db, leftPath[:])
	if err != nil {
		return err
	}
	if err := t.state.Put(db, leftPath[:], priorLeft.WithNextLeaf(nextFree).Bytes()); err != nil {
		return err
	}

	// Write the new opening at the next free leaf path.
	newPath := LeafPath(nextFree)
	db.UpdateIndex(hkey, FlattenedLeaf{LeafIndex: nextFree, LeafValue: value})
	opening := LeafOpening{
		PrevLeaf: r.LeftIndex,
		NextLeaf: r.RightIndex,
		HKey:     hkey,
		HVal:     hval,
	}
	if err := t.state.Put(db, newPath[:], opening.Bytes()); err != nil {
		return err
	}

	// Point the successor's prev at the new index.
	priorRight, err := t.parseLeafOpening(db, rightPath[:])
	if err != nil {
		return err
	}
	if err := t.state.Put(db, rightPath[:], priorRight.WithPrevLeaf(nextFree).Bytes()); err != nil {
		return err
	}

	_, err = t.incrementNextFreeNode(db)
	return err
}

// Remove deletes key if present: the neighbors are re-linked to skip the
// freed index, the leaf is blanked, and the counter stays untouched (freed
// slots are never reused).
func (t *ZkTrie) Remove(db Database, hkey types.Hash, key []byte) error {
	r, err := db.GetNearestKeys(t.TopRootHash(), hkey)
	if err != nil {
		return err
	}
	if r.Center == nil {
		return nil
	}
	leftPath := LeafPath(r.LeftIndex)
	rightPath := LeafPath(r.RightIndex)

	priorLeft, err := t.parseLeafOpening(db, leftPath[:])
	if err != nil {
		return err
	}
	if err := t.state.Put(db, leftPath[:], priorLeft.WithNextLeaf(r.RightIndex).Bytes()); err != nil {
		return err
	}

	deletePath := LeafPath(r.Center.LeafIndex)
	db.RemoveIndex(hkey)
	if err := t.state.Remove(db, deletePath[:]); err != nil {
		return err
	}

	priorRight, err := t.parseLeafOpening(db, rightPath[:])
	if err != nil {
		return err
	}
	return t.state.Put(db, rightPath[:], priorRight.WithPrevLeaf(r.LeftIndex).Bytes())
}
