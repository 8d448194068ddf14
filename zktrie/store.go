package zktrie

import (
	"bytes"
	"sort"
	"sync"

	"github.com/teeprover/teeprover/log"
	"github.com/teeprover/teeprover/metrics"
	"github.com/teeprover/teeprover/types"
)

var logger = log.Module("zktrie")

// FallbackCounter is the telemetry counter bumped every time proof replay
// engages the empty-leaf fallback.
const FallbackCounter = "zktrie.proof.fallback"

// FlattenedLeaf pairs a leaf's append index with its raw (un-Merkleized)
// value.
type FlattenedLeaf struct {
	LeafIndex uint64
	LeafValue []byte
}

// LeafPath returns the trie path of the leaf's index.
func (f *FlattenedLeaf) LeafPath() [PathLength]byte {
	return LeafPath(f.LeafIndex)
}

// HeadFlattenedLeaf returns the flattened head sentinel.
func HeadFlattenedLeaf() FlattenedLeaf {
	head := HeadLeafOpening()
	return FlattenedLeaf{LeafIndex: 0, LeafValue: head.HVal.Bytes()}
}

// TailFlattenedLeaf returns the flattened tail sentinel.
func TailFlattenedLeaf() FlattenedLeaf {
	tail := TailLeafOpening()
	return FlattenedLeaf{LeafIndex: 1, LeafValue: tail.HVal.Bytes()}
}

// KeyRange is the nearest-keys answer around a hashed key: the linked-list
// neighbor indices and, for present keys, the center leaf.
type KeyRange struct {
	LeftIndex  uint64
	Center     *FlattenedLeaf
	RightIndex uint64
}

// LeftPath returns the trie path of the left neighbor.
func (r *KeyRange) LeftPath() [PathLength]byte { return LeafPath(r.LeftIndex) }

// RightPath returns the trie path of the right neighbor.
func (r *KeyRange) RightPath() [PathLength]byte { return LeafPath(r.RightIndex) }

type indexKey struct {
	owner types.Address
	hkey  types.Hash
}

// Empty-state constants, computed once: the always-available empty chain,
// the nodes created while installing the sentinels, and the canonical empty
// trie root.
var (
	emptyWorldNodes map[types.Hash]*Node
	EmptyTrieRoot   types.Hash
	EmptySubRoot    types.Hash
)

func init() {
	store := newMemStore(false)
	db := NewPrefixDB(types.Address{}, store)
	trie, err := NewEmptyZkTrie(db)
	if err != nil {
		panic(err)
	}
	EmptyTrieRoot = trie.TopRootHash()
	sub, err := trie.SubRootHash(db)
	if err != nil {
		panic(err)
	}
	EmptySubRoot = sub
	emptyWorldNodes = store.nodes
}

// MemStore is the process-local content-addressed node store shared by the
// account trie and every per-account storage sub-trie. A single mutex
// serializes all access; PrefixDB views fold an owner address into the index
// key so sub-tries do not collide.
type MemStore struct {
	mu        sync.Mutex
	useStatic bool
	nodes     map[types.Hash]*Node
	// index materializes nearest-keys ranges from witness proofs, keyed by
	// the authenticated root they were proven against.
	index map[types.Hash]map[indexKey]KeyRange
	// live tracks the flattened leaves maintained by trie writes, per owner,
	// answering range queries for roots this process produced itself.
	live  map[types.Address]map[types.Hash]FlattenedLeaf
	codes map[types.Hash][]byte
}

// NewMemStore creates an empty store with the static empty-state nodes
// available.
func NewMemStore() *MemStore {
	return newMemStore(true)
}

func newMemStore(useStatic bool) *MemStore {
	return &MemStore{
		useStatic: useStatic,
		nodes:     make(map[types.Hash]*Node),
		index:     make(map[types.Hash]map[indexKey]KeyRange),
		live:      make(map[types.Address]map[types.Hash]FlattenedLeaf),
		codes:     make(map[types.Hash][]byte),
	}
}

// AddCodes stores bytecodes keyed by their Keccak hash.
func (s *MemStore) AddCodes(codes [][]byte, hashFn func([]byte) types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, code := range codes {
		s.codes[hashFn(code)] = bytes.Clone(code)
	}
}

func (s *MemStore) getNode(hash types.Hash) (*Node, error) {
	if hash.IsZero() {
		return EmptyLeaf(), nil
	}
	if s.useStatic {
		if n, ok := emptyWorldNodes[hash]; ok {
			return n, nil
		}
	}
	if n, ok := s.nodes[hash]; ok {
		return n, nil
	}
	return nil, nil
}

func (s *MemStore) updateNode(n *Node) (*Node, error) {
	s.nodes[n.Hash()] = n
	return n, nil
}

func (s *MemStore) getNearestKeys(owner types.Address, root, hkey types.Hash) (KeyRange, error) {
	if rootMap, ok := s.index[root]; ok {
		if r, ok := rootMap[indexKey{owner: owner, hkey: hkey}]; ok {
			return r, nil
		}
	}
	if root == EmptyTrieRoot {
		return KeyRange{LeftIndex: 0, RightIndex: 1}, nil
	}
	if leaves, ok := s.live[owner]; ok {
		return liveRange(leaves, hkey), nil
	}
	if _, ok := s.index[root]; ok {
		return KeyRange{}, &IndexNotFoundError{Root: root, Owner: owner, HKey: hkey}
	}
	return KeyRange{}, &UnknownRootError{Root: root}
}

// liveRange derives the range around hkey from the live flattened leaves:
// the nearest neighbors below and above hkey and, when hkey is present, the
// center leaf. The sentinels bound every query.
func liveRange(leaves map[types.Hash]FlattenedLeaf, hkey types.Hash) KeyRange {
	hkeys := make([]types.Hash, 0, len(leaves))
	for k := range leaves {
		hkeys = append(hkeys, k)
	}
	sort.Slice(hkeys, func(i, j int) bool { return hkeys[i].Cmp(hkeys[j]) < 0 })

	// The sentinels at indices 0 and 1 bound the range by default.
	r := KeyRange{LeftIndex: 0, RightIndex: 1}
	for _, k := range hkeys {
		if c := k.Cmp(hkey); c < 0 {
			r.LeftIndex = leaves[k].LeafIndex
		} else if c > 0 {
			r.RightIndex = leaves[k].LeafIndex
			break
		}
	}
	if leaf, ok := leaves[hkey]; ok {
		center := leaf
		r.Center = &center
	}
	return r
}

func (s *MemStore) updateIndex(owner types.Address, hkey types.Hash, leaf FlattenedLeaf) {
	leaves, ok := s.live[owner]
	if !ok {
		leaves = make(map[types.Hash]FlattenedLeaf)
		s.live[owner] = leaves
	}
	leaves[hkey] = leaf
}

func (s *MemStore) removeIndex(owner types.Address, hkey types.Hash) {
	if leaves, ok := s.live[owner]; ok {
		delete(leaves, hkey)
	}
}

// buildNodeBranch rebuilds the 42-node sibling chain of a leaf bottom-up and
// returns every reconstructed node, the final (deepest-to-root) branch last.
// With fallback set the sibling at leaf depth is treated as the empty leaf.
func (s *MemStore) buildNodeBranch(triePath []byte, siblings [][]byte, fallback bool) ([]*Node, error) {
	leafValue := siblings[len(siblings)-1]
	siblings = siblings[:len(siblings)-1]

	leaf, err := ParseLeafValue([]byte{triePath[len(triePath)-1]}, leafValue)
	if err != nil {
		return nil, err
	}
	out := []*Node{leaf}
	leafHash := leaf.Hash()

	siblingLeafIdx := len(siblings) - 1
	for idx := len(siblings) - 1; idx >= 0; idx-- {
		siblingBytes := siblings[idx]
		if idx == 0 {
			root, err := ParseBranchBytes(siblingBytes)
			if err != nil {
				return nil, err
			}
			out = append(out, root)
			break
		}
		var sibling *Node
		if idx == siblingLeafIdx {
			if fallback {
				sibling = EmptyLeaf()
			} else {
				sibling, err = ParseLeafValue([]byte{triePath[len(triePath)-1]}, siblingBytes)
				if err != nil {
					return nil, err
				}
			}
		} else {
			sibling, err = ParseBranchBytes(siblingBytes)
			if err != nil {
				return nil, err
			}
		}
		branch, err := NewBranchAuto(triePath[idx], leafHash, sibling.Hash())
		if err != nil {
			return nil, err
		}
		leafHash = branch.Hash()
		out = append(out, sibling, branch)
	}
	return out, nil
}

// replayProof verifies a sibling chain against its claimed root, retrying
// once under the empty-leaf fallback before rejecting.
func (s *MemStore) replayProof(leafIndex uint64, siblings [][]byte) ([]*Node, error) {
	triePath := LeafPath(leafIndex)
	if len(siblings) != len(triePath) {
		return nil, &InvalidNodeError{Reason: "sibling count does not match trie depth"}
	}
	fallback := false
	for {
		out, err := s.buildNodeBranch(triePath[:], siblings, fallback)
		if err != nil {
			return nil, err
		}
		subRoot := out[len(out)-2].Hash()
		root := out[len(out)-1]
		if subRoot == root.Right() {
			return out, nil
		}
		if !fallback {
			fallback = true
			metrics.Inc(FallbackCounter, 1)
			logger.Debug("proof replay fallback engaged", "leaf_index", leafIndex)
			continue
		}
		nextFree := ParseNodeIndex(root.Left().Bytes())
		return nil, &InvalidProofError{
			Want:    root.Right(),
			Got:     subRoot,
			TopRoot: NewRootNode(nextFree, subRoot).Hash(),
		}
	}
}

// AddInclusionProof replays an inclusion proof, stores the reconstructed
// nodes and records the center range entry under the authenticated root.
func (s *MemStore) AddInclusionProof(owner types.Address, leafIndex uint64, key []byte, hkey types.Hash, value []byte, siblings [][]byte) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.replayProof(leafIndex, siblings)
	if err != nil {
		return types.Hash{}, err
	}
	rootHash := out[len(out)-1].Hash()
	for _, n := range out {
		s.nodes[n.Hash()] = n
	}
	rootMap, ok := s.index[rootHash]
	if !ok {
		rootMap = make(map[indexKey]KeyRange)
		s.index[rootHash] = rootMap
	}
	k := indexKey{owner: owner, hkey: hkey}
	if _, exists := rootMap[k]; !exists {
		r := KeyRange{
			Center: &FlattenedLeaf{LeafIndex: leafIndex, LeafValue: bytes.Clone(value)},
		}
		// The proven leaf opening names the linked-list neighbors.
		if o, err := ParseLeafOpening(siblings[len(siblings)-1]); err == nil {
			r.LeftIndex, r.RightIndex = o.PrevLeaf, o.NextLeaf
		}
		rootMap[k] = r
	}
	return rootHash, nil
}

// AddNonInclusionProof replays the left and right neighbor proofs of an
// absent key and records the open range under the authenticated root.
func (s *MemStore) AddNonInclusionProof(owner types.Address, leftLeafIndex, rightLeafIndex uint64, key []byte, hkey types.Hash, leftSiblings, rightSiblings [][]byte) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rightNodes, err := s.replayProof(rightLeafIndex, rightSiblings)
	if err != nil {
		return types.Hash{}, err
	}
	leftNodes, err := s.replayProof(leftLeafIndex, leftSiblings)
	if err != nil {
		return types.Hash{}, err
	}
	rootHash := leftNodes[len(leftNodes)-1].Hash()
	if rightRoot := rightNodes[len(rightNodes)-1].Hash(); rightRoot != rootHash {
		return types.Hash{}, &InvalidProofError{Want: rootHash, Got: rightRoot}
	}
	for _, n := range leftNodes {
		s.nodes[n.Hash()] = n
	}
	for _, n := range rightNodes {
		s.nodes[n.Hash()] = n
	}
	rootMap, ok := s.index[rootHash]
	if !ok {
		rootMap = make(map[indexKey]KeyRange)
		s.index[rootHash] = rootMap
	}
	k := indexKey{owner: owner, hkey: hkey}
	if _, exists := rootMap[k]; !exists {
		rootMap[k] = KeyRange{LeftIndex: leftLeafIndex, RightIndex: rightLeafIndex}
	}
	return rootHash, nil
}

// PrefixDB is a Database view of a shared MemStore with a fixed owner
// address. Per-account storage sub-tries each use their own prefix.
type PrefixDB struct {
	prefix types.Address
	raw    *MemStore
}

// NewPrefixDB binds an owner address over the store.
func NewPrefixDB(prefix types.Address, raw *MemStore) *PrefixDB {
	return &PrefixDB{prefix: prefix, raw: raw}
}

// WithPrefix returns a sibling view over the same store with another owner.
func (d *PrefixDB) WithPrefix(prefix types.Address) *PrefixDB {
	return &PrefixDB{prefix: prefix, raw: d.raw}
}

// Store exposes the underlying shared store.
func (d *PrefixDB) Store() *MemStore { return d.raw }

// GetNode implements Database.
func (d *PrefixDB) GetNode(hash types.Hash) (*Node, error) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	return d.raw.getNode(hash)
}

// UpdateNode implements Database.
func (d *PrefixDB) UpdateNode(n *Node) (*Node, error) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	return d.raw.updateNode(n)
}

// GetNearestKeys implements Database.
func (d *PrefixDB) GetNearestKeys(root, hkey types.Hash) (KeyRange, error) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	return d.raw.getNearestKeys(d.prefix, root, hkey)
}

// UpdateIndex implements Database.
func (d *PrefixDB) UpdateIndex(hkey types.Hash, leaf FlattenedLeaf) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	d.raw.updateIndex(d.prefix, hkey, leaf)
}

// RemoveIndex implements Database.
func (d *PrefixDB) RemoveIndex(hkey types.Hash) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	d.raw.removeIndex(d.prefix, hkey)
}

// GetCode implements Database.
func (d *PrefixDB) GetCode(hash types.Hash) ([]byte, bool) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	code, ok := d.raw.codes[hash]
	return code, ok
}

// SetCode implements Database.
func (d *PrefixDB) SetCode(hash types.Hash, code []byte) {
	d.raw.mu.Lock()
	defer d.raw.mu.Unlock()
	d.raw.codes[hash] = bytes.Clone(code)
}
