package zktrie

import (
	"bytes"
	"fmt"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// NodeKind discriminates the node union.
type NodeKind uint8

const (
	NodeEmpty NodeKind = iota
	NodeBranch
	NodeLeaf
	NodeNextFree
)

// BranchKind tags a branch with the terminal-ness of its children. The tag
// is carried in the witness wire encoding so the kind of every sibling is
// authenticated during proof replay.
type BranchKind uint8

const (
	BothTerminal  BranchKind = 6
	LeftTerminal  BranchKind = 7
	RightTerminal BranchKind = 8
	BothBranch    BranchKind = 9
)

// Node is one node of the sparse trie. Nodes are immutable after
// construction; the hash is computed once.
type Node struct {
	kind  NodeKind
	left  types.Hash // branch only
	right types.Hash // branch only
	bkind BranchKind // branch only
	path  []byte     // leaf path suffix
	value []byte     // leaf / next-free payload
	hash  types.Hash
}

// Kind returns the node kind.
func (n *Node) Kind() NodeKind { return n.kind }

// Hash returns the node hash. The empty leaf hashes to zero.
func (n *Node) Hash() types.Hash { return n.hash }

// Left returns a branch's left child hash.
func (n *Node) Left() types.Hash { return n.left }

// Right returns a branch's right child hash.
func (n *Node) Right() types.Hash { return n.right }

// Path returns a leaf's stored path suffix.
func (n *Node) Path() []byte { return n.path }

// Value returns the payload of a leaf or next-free node. Branches have no
// value; the empty leaf yields empty bytes.
func (n *Node) Value() ([]byte, bool) {
	switch n.kind {
	case NodeLeaf, NodeNextFree:
		return n.value, true
	case NodeEmpty:
		return nil, true
	default:
		return nil, false
	}
}

// IsTerminal reports whether the node terminates a descent.
func (n *Node) IsTerminal() bool {
	return n.kind != NodeBranch
}

// ChildHash returns the branch child selected by a path step (0 left,
// anything else right).
func (n *Node) ChildHash(step byte) types.Hash {
	if step == 0 {
		return n.left
	}
	return n.right
}

var emptyLeafNode = &Node{kind: NodeEmpty}

// EmptyLeaf returns the shared empty leaf node.
func EmptyLeaf() *Node { return emptyLeafNode }

// NewBranch builds a branch over two child hashes. The hash is MiMC over the
// 64-byte left||right concatenation; an error means a child hash is not a
// canonical field element, which only happens for malicious witness input.
func NewBranch(left, right types.Hash) (*Node, error) {
	return newBranchKind(left, right, BothBranch)
}

// NewBranchKind builds a branch carrying an explicit terminal tag for the
// wire encoding. The tag does not enter the hash.
func NewBranchKind(left, right types.Hash, kind BranchKind) (*Node, error) {
	return newBranchKind(left, right, kind)
}

func newBranchKind(left, right types.Hash, kind BranchKind) (*Node, error) {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	h, err := crypto.TrieHash(buf)
	if err != nil {
		return nil, err
	}
	return &Node{kind: NodeBranch, left: left, right: right, bkind: kind, hash: h}, nil
}

// NewBranchAuto places leaf and sibling according to the path step at the
// branching level: step 0 puts the leaf on the left.
func NewBranchAuto(step byte, leaf, sibling types.Hash) (*Node, error) {
	if step == 0 {
		return NewBranch(leaf, sibling)
	}
	return NewBranch(sibling, leaf)
}

// NewLeaf builds a value leaf over a path suffix. A suffix equal to the
// next-free marker produces a next-free node instead.
func NewLeaf(path, value []byte) (*Node, error) {
	kind := NodeLeaf
	if len(path) == 1 && path[0] == LeafTypeNextFree {
		kind = NodeNextFree
	}
	h, err := crypto.TrieHash(value)
	if err != nil {
		return nil, err
	}
	return &Node{kind: kind, path: bytes.Clone(path), value: bytes.Clone(value), hash: h}, nil
}

// NewNextFree builds the next-free counter node for the given index.
func NewNextFree(index uint64) *Node {
	var val [32]byte
	for i := 0; i < 8; i++ {
		val[31-i] = byte(index >> (8 * i))
	}
	h, err := crypto.TrieHash(val[:])
	if err != nil {
		panic(err) // a u64 is always canonical
	}
	return &Node{kind: NodeNextFree, value: val[:], hash: h}
}

// NewRootNode builds the synthetic root: the left 32 bytes are the
// big-endian next-free counter, the right is the sub-root. The counter is
// part of the authenticated root hash.
func NewRootNode(nextFreeNode uint64, subRoot types.Hash) *Node {
	var left types.Hash
	for i := 0; i < 8; i++ {
		left[31-i] = byte(nextFreeNode >> (8 * i))
	}
	n, err := NewBranch(left, subRoot)
	if err != nil {
		panic(err) // counter and sub-root are always canonical
	}
	return n
}

// ParseLeafValue interprets raw leaf bytes from a witness: a 32-byte zero
// word denotes the empty leaf.
func ParseLeafValue(path, buf []byte) (*Node, error) {
	if len(buf) == 32 && types.BytesToHash(buf).IsZero() {
		return EmptyLeaf(), nil
	}
	return NewLeaf(path, buf)
}

// ParseBranchBytes interprets a 64-byte left||right sibling from a witness.
func ParseBranchBytes(buf []byte) (*Node, error) {
	if len(buf) != 64 {
		return nil, &InvalidNodeError{Reason: fmt.Sprintf("branch bytes length %d, want 64", len(buf))}
	}
	return NewBranch(types.BytesToHash(buf[:32]), types.BytesToHash(buf[32:]))
}

// Encode serializes the node for witness bundles. Branches lead with their
// terminal tag, leaves with their leaf-type marker followed by the path
// suffix length.
func (n *Node) Encode() []byte {
	switch n.kind {
	case NodeEmpty:
		return []byte{LeafTypeEmpty}
	case NodeBranch:
		out := make([]byte, 1, 65)
		out[0] = byte(n.bkind)
		out = append(out, n.left[:]...)
		out = append(out, n.right[:]...)
		return out
	case NodeNextFree:
		out := make([]byte, 1, 1+len(n.value))
		out[0] = LeafTypeNextFree
		return append(out, n.value...)
	default:
		out := make([]byte, 2, 2+len(n.path)+len(n.value))
		out[0] = LeafTypeValue
		out[1] = byte(len(n.path))
		out = append(out, n.path...)
		return append(out, n.value...)
	}
}

// DecodeNode parses the witness wire encoding produced by Encode.
func DecodeNode(buf []byte) (*Node, error) {
	if len(buf) == 0 {
		return nil, &InvalidNodeError{Reason: "empty input"}
	}
	switch tag := buf[0]; tag {
	case LeafTypeEmpty:
		return EmptyLeaf(), nil
	case byte(BothTerminal), byte(LeftTerminal), byte(RightTerminal), byte(BothBranch):
		if len(buf) != 65 {
			return nil, &InvalidNodeError{Reason: fmt.Sprintf("branch encoding length %d, want 65", len(buf))}
		}
		return NewBranchKind(types.BytesToHash(buf[1:33]), types.BytesToHash(buf[33:65]), BranchKind(tag))
	case LeafTypeNextFree:
		if len(buf) != 33 {
			return nil, &InvalidNodeError{Reason: fmt.Sprintf("next-free encoding length %d, want 33", len(buf))}
		}
		return NewLeaf([]byte{LeafTypeNextFree}, buf[1:])
	case LeafTypeValue:
		if len(buf) < 2 || len(buf) < 2+int(buf[1]) {
			return nil, &InvalidNodeError{Reason: "truncated leaf encoding"}
		}
		plen := int(buf[1])
		return NewLeaf(buf[2:2+plen], buf[2+plen:])
	default:
		return nil, &InvalidNodeError{Reason: fmt.Sprintf("unknown node tag %#x", tag)}
	}
}

// LeafOpening is the Merkleized content of every trie leaf: the linked-list
// neighbor indices and the hashed key/value pair.
type LeafOpening struct {
	PrevLeaf uint64
	NextLeaf uint64
	HKey     types.Hash
	HVal     types.Hash
}

// HeadLeafOpening returns the head sentinel stored at leaf index 0.
func HeadLeafOpening() LeafOpening {
	return LeafOpening{PrevLeaf: 0, NextLeaf: 1}
}

// TailLeafOpening returns the tail sentinel stored at leaf index 1. Its
// hashed key is the maximum canonical field element, so every real key sorts
// strictly between the sentinels.
func TailLeafOpening() LeafOpening {
	return LeafOpening{PrevLeaf: 0, NextLeaf: 1, HKey: crypto.MaxFieldElement}
}

// Bytes returns the 128-byte leaf encoding: prev and next as 32-byte
// big-endian words, then hkey and hval.
func (o LeafOpening) Bytes() []byte {
	buf := make([]byte, 128)
	for i := 0; i < 8; i++ {
		buf[31-i] = byte(o.PrevLeaf >> (8 * i))
		buf[63-i] = byte(o.NextLeaf >> (8 * i))
	}
	copy(buf[64:96], o.HKey[:])
	copy(buf[96:128], o.HVal[:])
	return buf
}

// ParseLeafOpening decodes the 128-byte leaf encoding.
func ParseLeafOpening(buf []byte) (LeafOpening, error) {
	if len(buf) != 128 {
		return LeafOpening{}, &InvalidNodeError{Reason: fmt.Sprintf("leaf opening length %d, want 128", len(buf))}
	}
	return LeafOpening{
		PrevLeaf: ParseNodeIndex(buf[:32]),
		NextLeaf: ParseNodeIndex(buf[32:64]),
		HKey:     types.BytesToHash(buf[64:96]),
		HVal:     types.BytesToHash(buf[96:128]),
	}, nil
}

// WithHVal returns a copy with a replaced hashed value.
func (o LeafOpening) WithHVal(hval types.Hash) LeafOpening {
	o.HVal = hval
	return o
}

// WithNextLeaf returns a copy with a replaced successor index.
func (o LeafOpening) WithNextLeaf(next uint64) LeafOpening {
	o.NextLeaf = next
	return o
}

// WithPrevLeaf returns a copy with a replaced predecessor index.
func (o LeafOpening) WithPrevLeaf(prev uint64) LeafOpening {
	o.PrevLeaf = prev
	return o
}

// InitWorldState builds the empty-tree chain: level 0 is the empty leaf,
// level k+1 branches level k with itself, and the top binds a zero next-free
// counter to the depth-40 empty sub-root. It returns the top node and the
// set of always-available empty nodes keyed by hash.
func InitWorldState() (*Node, map[types.Hash]*Node) {
	nodes := make(map[types.Hash]*Node, Depth+2)
	node := EmptyLeaf()
	nodes[node.Hash()] = node
	for i := 0; i < Depth; i++ {
		branch, err := NewBranch(node.Hash(), node.Hash())
		if err != nil {
			panic(err)
		}
		node = branch
		nodes[node.Hash()] = node
	}
	top, err := NewBranch(types.Hash{}, node.Hash())
	if err != nil {
		panic(err)
	}
	nodes[top.Hash()] = top
	return top, nodes
}
