package zktrie

import (
	"github.com/teeprover/teeprover/types"
)

// Database is the node backend a trie operates against. Implementations
// resolve content-addressed nodes, answer nearest-key range queries from the
// materialized witness index and store EVM bytecode. The trie performs no
// I/O itself; a missing node surfaces as a NodeNotFoundError for the caller
// to fetch and retry.
type Database interface {
	// GetNode resolves a node by hash; (nil, nil) means unknown.
	GetNode(hash types.Hash) (*Node, error)
	// UpdateNode inserts a node keyed by its hash.
	UpdateNode(n *Node) (*Node, error)
	// GetNearestKeys answers the linked-list range around hkey under the
	// given root.
	GetNearestKeys(root types.Hash, hkey types.Hash) (KeyRange, error)
	// UpdateIndex records the flattened leaf for hkey in the live index.
	UpdateIndex(hkey types.Hash, leaf FlattenedLeaf)
	// RemoveIndex drops hkey from the live index.
	RemoveIndex(hkey types.Hash)
	// GetCode resolves bytecode by hash.
	GetCode(hash types.Hash) ([]byte, bool)
	// SetCode stores bytecode under the given hash.
	SetCode(hash types.Hash, code []byte)
}

// SparseMerkleTrie is the raw 42-level sparse binary trie addressed by byte
// paths. It tracks only the root hash; all structure lives in the Database.
type SparseMerkleTrie struct {
	rootHash types.Hash
}

// NewSparseMerkleTrie opens a trie at the given root.
func NewSparseMerkleTrie(root types.Hash) SparseMerkleTrie {
	return SparseMerkleTrie{rootHash: root}
}

// RootHash returns the current top root hash.
func (t *SparseMerkleTrie) RootHash() types.Hash {
	return t.rootHash
}

// RootNode resolves the synthetic root branch.
func (t *SparseMerkleTrie) RootNode(db Database) (*Node, error) {
	n, err := db.GetNode(t.rootHash)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NodeNotFoundError{Level: 0, Hash: t.rootHash}
	}
	if n.Kind() != NodeBranch {
		return nil, &InvalidNodeError{Reason: "root node is not a branch"}
	}
	return n, nil
}

// SubRootHash returns the right child of the synthetic root: the root of the
// actual sparse trie.
func (t *SparseMerkleTrie) SubRootHash(db Database) (types.Hash, error) {
	root, err := t.RootNode(db)
	if err != nil {
		return types.Hash{}, err
	}
	return root.Right(), nil
}

// NextFreeNode reads the append counter bound into the root's left child.
func (t *SparseMerkleTrie) NextFreeNode(db Database) (uint64, error) {
	root, err := t.RootNode(db)
	if err != nil {
		return 0, err
	}
	left := root.Left()
	return ParseNodeIndex(left[:]), nil
}

// SetNextFreeNode rebuilds the root with a new counter value.
func (t *SparseMerkleTrie) SetNextFreeNode(db Database, free uint64) error {
	root, err := t.RootNode(db)
	if err != nil {
		return err
	}
	newRoot := NewRootNode(free, root.Right())
	if _, err := db.UpdateNode(newRoot); err != nil {
		return err
	}
	t.rootHash = newRoot.Hash()
	return nil
}

// Put writes value at the given path, rebuilding branch hashes bottom-up.
func (t *SparseMerkleTrie) Put(db Database, path []byte, value []byte) error {
	root, err := t.addLeaf(db, 0, t.rootHash, path, value)
	if err != nil {
		return err
	}
	t.rootHash = root.Hash()
	return nil
}

// Remove blanks the leaf at the given path.
func (t *SparseMerkleTrie) Remove(db Database, path []byte) error {
	root, err := t.removeLeaf(db, 0, t.rootHash, path)
	if err != nil {
		return err
	}
	t.rootHash = root.Hash()
	return nil
}

func (t *SparseMerkleTrie) addLeaf(db Database, lvl int, current types.Hash, path []byte, value []byte) (*Node, error) {
	if lvl >= PathLength {
		return nil, ErrReachedMaxLevel
	}
	n, err := db.GetNode(current)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NodeNotFoundError{Level: lvl, Hash: current}
	}
	switch n.Kind() {
	case NodeBranch:
		child, err := t.addLeaf(db, lvl+1, n.ChildHash(path[lvl]), path, value)
		if err != nil {
			return nil, err
		}
		left, right := n.Left(), n.Right()
		if path[lvl] == 0 {
			left = child.Hash()
		} else {
			right = child.Hash()
		}
		branch, err := NewBranch(left, right)
		if err != nil {
			return nil, err
		}
		return db.UpdateNode(branch)
	case NodeLeaf, NodeNextFree:
		if prefixLen(n.Path(), path[lvl:]) != len(n.Path()) {
			return nil, ErrPathNotAllowed
		}
		leaf, err := NewLeaf(path[lvl:], value)
		if err != nil {
			return nil, err
		}
		return db.UpdateNode(leaf)
	default: // empty leaf
		leaf, err := NewLeaf(path[lvl:], value)
		if err != nil {
			return nil, err
		}
		return db.UpdateNode(leaf)
	}
}

func (t *SparseMerkleTrie) removeLeaf(db Database, lvl int, current types.Hash, path []byte) (*Node, error) {
	if lvl >= PathLength {
		return nil, ErrReachedMaxLevel
	}
	n, err := db.GetNode(current)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NodeNotFoundError{Level: lvl, Hash: current}
	}
	if n.Kind() != NodeBranch {
		return EmptyLeaf(), nil
	}
	child, err := t.removeLeaf(db, lvl+1, n.ChildHash(path[lvl]), path)
	if err != nil {
		return nil, err
	}
	left, right := n.Left(), n.Right()
	if path[lvl] == 0 {
		left = child.Hash()
	} else {
		right = child.Hash()
	}
	branch, err := NewBranch(left, right)
	if err != nil {
		return nil, err
	}
	return db.UpdateNode(branch)
}

// GetNode walks the path and returns the terminal node, or nil when the
// descent ends in an empty leaf or a diverging suffix.
func (t *SparseMerkleTrie) GetNode(db Database, path []byte) (*Node, error) {
	next := t.rootHash
	for i := 0; i < PathLength; i++ {
		n, err := db.GetNode(next)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, &NodeNotFoundError{Level: i, Hash: next}
		}
		switch n.Kind() {
		case NodeBranch:
			next = n.ChildHash(path[i])
		case NodeEmpty:
			return nil, nil
		case NodeLeaf, NodeNextFree:
			if prefixLen(n.Path(), path[i:]) == len(path[i:]) && len(n.Path()) == len(path[i:]) {
				return n, nil
			}
			return nil, nil
		}
	}
	return nil, ErrReachedMaxLevel
}
