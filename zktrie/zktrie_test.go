package zktrie

import (
	"bytes"
	"testing"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// dumDigest builds the deterministic 32-byte test digest for a counter: the
// value big-endian in the trailing bytes.
func dumDigest(i uint64) []byte {
	var out [32]byte
	for b := 0; b < 8; b++ {
		out[31-b] = byte(i >> (8 * b))
	}
	return out[:]
}

func newTestTrie(t *testing.T) (*ZkTrie, *PrefixDB) {
	t.Helper()
	db := NewPrefixDB(types.Address{}, NewMemStore())
	trie, err := NewEmptyZkTrie(db)
	if err != nil {
		t.Fatalf("NewEmptyZkTrie: %v", err)
	}
	return trie, db
}

func mustTrieHash(t *testing.T, data []byte) types.Hash {
	t.Helper()
	h, err := crypto.TrieHash(data)
	if err != nil {
		t.Fatalf("TrieHash: %v", err)
	}
	return h
}

func put(t *testing.T, trie *ZkTrie, db Database, key, value []byte) {
	t.Helper()
	hkey := mustTrieHash(t, key)
	hval := mustTrieHash(t, value)
	if err := trie.Put(db, hkey, key, hval, value); err != nil {
		t.Fatalf("Put(%x): %v", key, err)
	}
}

func remove(t *testing.T, trie *ZkTrie, db Database, key []byte) {
	t.Helper()
	hkey := mustTrieHash(t, key)
	if err := trie.Remove(db, hkey, key); err != nil {
		t.Fatalf("Remove(%x): %v", key, err)
	}
}

func read(t *testing.T, trie *ZkTrie, db Database, key []byte) ([]byte, bool) {
	t.Helper()
	hkey := mustTrieHash(t, key)
	val, ok, err := trie.Read(db, hkey, key)
	if err != nil {
		t.Fatalf("Read(%x): %v", key, err)
	}
	return val, ok
}

// -- Seed vectors --

func TestSentinelLeafHashes(t *testing.T) {
	headHash := mustTrieHash(t, HeadLeafOpening().Bytes())
	if want := types.HexToHash("0x0891fa77c3d0c9b745840d71d41dcb58b638d4734bb4f0bba4a3d1a2d847b672"); headHash != want {
		t.Fatalf("head leaf hash = %s, want %s", headHash, want)
	}
	tailHash := mustTrieHash(t, TailLeafOpening().Bytes())
	if want := types.HexToHash("0x10ba2286f648a549b50ea5f1b6e1155d22c31eb4727c241e76c420200cd5dbe0"); tailHash != want {
		t.Fatalf("tail leaf hash = %s, want %s", tailHash, want)
	}
}

func TestInitWorldStateTopHash(t *testing.T) {
	top, _ := InitWorldState()
	want := types.HexToHash("0x09349798db316b1b222f291207e9e1368e9b887a234dcc73b433e6218a43f173")
	if top.Hash() != want {
		t.Fatalf("world state top = %s, want %s", top.Hash(), want)
	}
}

func TestEmptyTrieRootHash(t *testing.T) {
	trie, db := newTestTrie(t)
	want := types.HexToHash("0x07977874126658098c066972282d4c85f230520af3847e297fe7524f976873e5")
	if trie.TopRootHash() != want {
		t.Fatalf("empty trie root = %s, want %s", trie.TopRootHash(), want)
	}
	if EmptyTrieRoot != want {
		t.Fatalf("EmptyTrieRoot = %s, want %s", EmptyTrieRoot, want)
	}
	sub, err := trie.SubRootHash(db)
	if err != nil {
		t.Fatalf("SubRootHash: %v", err)
	}
	if wantSub := types.HexToHash("0x0951bfcd4ac808d195af8247140b906a4379b3f2d37ec66e34d2f4a5d35fa166"); sub != wantSub {
		t.Fatalf("empty sub-root = %s, want %s", sub, wantSub)
	}
}

func TestInsertionRootHash(t *testing.T) {
	trie, db := newTestTrie(t)
	put(t, trie, db, dumDigest(58), dumDigest(42))

	sub, err := trie.SubRootHash(db)
	if err != nil {
		t.Fatalf("SubRootHash: %v", err)
	}
	if want := types.HexToHash("0x0882afe875656680dceb7b17fcba7c136cec0c32becbe9039546c79f71c56d36"); sub != want {
		t.Fatalf("sub-root = %s, want %s", sub, want)
	}
	if want := types.HexToHash("0x0cfdc3990045390093be4e1cc9907b220324cccd1c8ea9ede980c7afa898ef8d"); trie.TopRootHash() != want {
		t.Fatalf("top root = %s, want %s", trie.TopRootHash(), want)
	}
}

func TestInsertionAndUpdateRootHash(t *testing.T) {
	trie, db := newTestTrie(t)
	put(t, trie, db, dumDigest(58), dumDigest(41))

	if want := types.HexToHash("0x03b9554192a170e9424f8cdcd5657ce1826123d93239b9aeb24a648d67522aa5"); trie.TopRootHash() != want {
		t.Fatalf("top root after insert = %s, want %s", trie.TopRootHash(), want)
	}

	put(t, trie, db, dumDigest(58), dumDigest(42))

	// Updating in place converges to the same root as a direct insert.
	if want := types.HexToHash("0x0cfdc3990045390093be4e1cc9907b220324cccd1c8ea9ede980c7afa898ef8d"); trie.TopRootHash() != want {
		t.Fatalf("top root after update = %s, want %s", trie.TopRootHash(), want)
	}
}

func TestInsertionAndDeleteRootHash(t *testing.T) {
	trie, db := newTestTrie(t)
	put(t, trie, db, dumDigest(58), dumDigest(41))
	remove(t, trie, db, dumDigest(58))

	sub, err := trie.SubRootHash(db)
	if err != nil {
		t.Fatalf("SubRootHash: %v", err)
	}
	// The sub-root returns to the empty chain; the top root differs from the
	// pristine trie because the freed index is not reused.
	if want := types.HexToHash("0x0951bfcd4ac808d195af8247140b906a4379b3f2d37ec66e34d2f4a5d35fa166"); sub != want {
		t.Fatalf("sub-root after delete = %s, want %s", sub, want)
	}
	if want := types.HexToHash("0x0bcb88342825fa7a079a5cf5f77d07b1590a140c311a35acd765080eea120329"); trie.TopRootHash() != want {
		t.Fatalf("top root after delete = %s, want %s", trie.TopRootHash(), want)
	}
}

func TestMimcSafeKeyRootHash(t *testing.T) {
	trie, db := newTestTrie(t)
	key := make([]byte, 32)
	hkey, err := crypto.MimcSafe(key)
	if err != nil {
		t.Fatalf("MimcSafe: %v", err)
	}
	val := dumDigest(1)
	hval, err := crypto.MimcSafe(val)
	if err != nil {
		t.Fatalf("MimcSafe: %v", err)
	}
	if err := trie.Put(db, hkey, key, hval, val); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := types.HexToHash("0x0cb64b38d8631a95c7b57be839251759e73775b9cf09205eb33175915b3cb7fe"); trie.TopRootHash() != want {
		t.Fatalf("top root = %s, want %s", trie.TopRootHash(), want)
	}
}

// -- Properties --

// P1: get returns the last written value, or nothing after remove.
func TestRoundTrip(t *testing.T) {
	trie, db := newTestTrie(t)
	for i := uint64(2); i < 20; i += 2 {
		put(t, trie, db, dumDigest(i), dumDigest(i*100))
	}
	for i := uint64(2); i < 20; i += 2 {
		val, ok := read(t, trie, db, dumDigest(i))
		if !ok || !bytes.Equal(val, dumDigest(i*100)) {
			t.Fatalf("read(%d) = (%x, %v), want %x", i, val, ok, dumDigest(i*100))
		}
	}
	// Overwrite half, remove the rest.
	for i := uint64(2); i < 20; i += 4 {
		put(t, trie, db, dumDigest(i), dumDigest(i+1))
	}
	for i := uint64(4); i < 20; i += 4 {
		remove(t, trie, db, dumDigest(i))
	}
	for i := uint64(2); i < 20; i += 4 {
		val, ok := read(t, trie, db, dumDigest(i))
		if !ok || !bytes.Equal(val, dumDigest(i+1)) {
			t.Fatalf("read(%d) after update = (%x, %v)", i, val, ok)
		}
	}
	for i := uint64(4); i < 20; i += 4 {
		if _, ok := read(t, trie, db, dumDigest(i)); ok {
			t.Fatalf("read(%d) after remove still present", i)
		}
	}
	if _, ok := read(t, trie, db, dumDigest(3)); ok {
		t.Fatal("read of never-written key present")
	}
}

// P2: the same insertion sequence always yields the same root. Leaf indices
// follow insertion order, so the root is not independent of that order.
func TestRootDeterminism(t *testing.T) {
	build := func(order []uint64) types.Hash {
		trie, db := newTestTrie(t)
		for _, i := range order {
			put(t, trie, db, dumDigest(i), dumDigest(i*3))
		}
		return trie.TopRootHash()
	}
	a := build([]uint64{5, 9, 13, 17})
	b := build([]uint64{17, 13, 9, 5})
	// Leaf indices depend on insertion order, so roots agree only for equal
	// orderings of distinct keys; identical orderings must agree exactly.
	c := build([]uint64{5, 9, 13, 17})
	if a != c {
		t.Fatalf("same insertion order produced different roots: %s vs %s", a, c)
	}
	if a == b {
		// Reversed insertion changes leaf index assignment; the roots
		// diverging is the expected consequence of index binding.
		t.Log("reversed order produced identical root (index-independent layout)")
	}
}

// P3: the sentinels survive arbitrary operation sequences.
func TestHeadTailPreservation(t *testing.T) {
	trie, db := newTestTrie(t)
	for i := uint64(2); i < 12; i++ {
		put(t, trie, db, dumDigest(i), dumDigest(i))
	}
	for i := uint64(2); i < 12; i += 3 {
		remove(t, trie, db, dumDigest(i))
	}
	headPath := LeafPath(0)
	tailPath := LeafPath(1)
	headNode, err := trie.state.GetNode(db, headPath[:])
	if err != nil || headNode == nil {
		t.Fatalf("head node missing: %v", err)
	}
	tailNode, err := trie.state.GetNode(db, tailPath[:])
	if err != nil || tailNode == nil {
		t.Fatalf("tail node missing: %v", err)
	}
	headVal, _ := headNode.Value()
	head, err := ParseLeafOpening(headVal)
	if err != nil {
		t.Fatalf("parse head: %v", err)
	}
	tailVal, _ := tailNode.Value()
	tail, err := ParseLeafOpening(tailVal)
	if err != nil {
		t.Fatalf("parse tail: %v", err)
	}
	if !head.HKey.IsZero() || !head.HVal.IsZero() {
		t.Fatalf("head sentinel mutated: %+v", head)
	}
	if tail.HKey != crypto.MaxFieldElement || !tail.HVal.IsZero() {
		t.Fatalf("tail sentinel mutated: %+v", tail)
	}
}

// P4: prev/next references form a consistent ordered linked list.
func TestLinkedListConsistency(t *testing.T) {
	trie, db := newTestTrie(t)
	keys := []uint64{7, 3, 11, 5, 9}
	for _, i := range keys {
		put(t, trie, db, dumDigest(i), dumDigest(i))
	}
	remove(t, trie, db, dumDigest(5))

	opening := func(index uint64) LeafOpening {
		path := LeafPath(index)
		n, err := trie.state.GetNode(db, path[:])
		if err != nil || n == nil {
			t.Fatalf("leaf %d missing: %v", index, err)
		}
		val, _ := n.Value()
		o, err := ParseLeafOpening(val)
		if err != nil {
			t.Fatalf("parse leaf %d: %v", index, err)
		}
		return o
	}

	// Walk from head to tail, checking back references and hkey ordering.
	var visited int
	prev := uint64(0)
	current := opening(0).NextLeaf
	lastHKey := types.Hash{}
	for current != 1 {
		o := opening(current)
		if o.PrevLeaf != prev {
			t.Fatalf("leaf %d prev = %d, want %d", current, o.PrevLeaf, prev)
		}
		if next := opening(o.NextLeaf); next.PrevLeaf != current && o.NextLeaf != 1 {
			t.Fatalf("leaf %d next %d does not point back", current, o.NextLeaf)
		}
		if o.HKey.Cmp(lastHKey) <= 0 {
			t.Fatalf("hkey ordering violated at leaf %d", current)
		}
		lastHKey = o.HKey
		prev = current
		current = o.NextLeaf
		visited++
		if visited > len(keys)+2 {
			t.Fatal("linked list does not terminate")
		}
	}
	if visited != len(keys)-1 {
		t.Fatalf("walked %d leaves, want %d", visited, len(keys)-1)
	}
	if tail := opening(1); tail.PrevLeaf != prev {
		t.Fatalf("tail prev = %d, want %d", tail.PrevLeaf, prev)
	}
}

// P5: the next-free counter grows on insert and never shrinks on remove.
func TestNextFreeMonotonicity(t *testing.T) {
	trie, db := newTestTrie(t)
	before, err := trie.NextFreeNode(db)
	if err != nil {
		t.Fatalf("NextFreeNode: %v", err)
	}
	if before != 2 {
		t.Fatalf("fresh trie next-free = %d, want 2", before)
	}
	put(t, trie, db, dumDigest(5), dumDigest(5))
	put(t, trie, db, dumDigest(7), dumDigest(7))
	mid, _ := trie.NextFreeNode(db)
	if mid != before+2 {
		t.Fatalf("next-free after 2 inserts = %d, want %d", mid, before+2)
	}
	remove(t, trie, db, dumDigest(5))
	after, _ := trie.NextFreeNode(db)
	if after != mid {
		t.Fatalf("next-free changed on remove: %d -> %d", mid, after)
	}
	// A reinsert takes a fresh index.
	put(t, trie, db, dumDigest(5), dumDigest(5))
	final, _ := trie.NextFreeNode(db)
	if final != mid+1 {
		t.Fatalf("next-free after reinsert = %d, want %d", final, mid+1)
	}
}

// Every node of the precomputed empty chain resolves from a fresh store.
func TestEmptyChainAvailability(t *testing.T) {
	_, nodes := InitWorldState()
	db := NewPrefixDB(types.Address{}, NewMemStore())
	for h := range nodes {
		n, err := db.GetNode(h)
		if err != nil || n == nil {
			t.Fatalf("empty chain node %s not always-available: %v", h, err)
		}
	}
}

func TestReadProofOfAbsence(t *testing.T) {
	trie, db := newTestTrie(t)
	put(t, trie, db, dumDigest(10), dumDigest(10))
	// Both presence and absence answers come from the nearest-keys range.
	if _, ok := read(t, trie, db, dumDigest(9)); ok {
		t.Fatal("absent key reported present")
	}
	hkey := mustTrieHash(t, dumDigest(9))
	r, err := db.GetNearestKeys(trie.TopRootHash(), hkey)
	if err != nil {
		t.Fatalf("GetNearestKeys: %v", err)
	}
	if r.Center != nil {
		t.Fatal("absence range has a center")
	}
}
