package zktrie

import (
	"errors"
	"fmt"

	"github.com/teeprover/teeprover/types"
)

var (
	// ErrKeyNotFound is returned when a read asserts presence of an absent key.
	ErrKeyNotFound = errors.New("zktrie: key not found")

	// ErrReachedMaxLevel is returned when a descent exceeds the trie depth.
	ErrReachedMaxLevel = errors.New("zktrie: reached max level")

	// ErrPathNotAllowed is returned when a leaf path conflicts with an
	// existing leaf's stored suffix.
	ErrPathNotAllowed = errors.New("zktrie: leaf path not allowed")
)

// NodeNotFoundError reports a node the database could not resolve during a
// trie operation. The caller is expected to fetch the node and retry; the
// trie itself never performs I/O.
type NodeNotFoundError struct {
	Level int
	Hash  types.Hash
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("zktrie: node %s not found at level %d", e.Hash, e.Level)
}

// InvalidProofError reports a sibling chain whose reconstructed sub-root
// disagrees with the proof's claimed root even after the empty-leaf fallback.
type InvalidProofError struct {
	Want    types.Hash
	Got     types.Hash
	TopRoot types.Hash
}

func (e *InvalidProofError) Error() string {
	return fmt.Sprintf("zktrie: invalid proof: want sub-root %s, got %s", e.Want, e.Got)
}

// InvalidNodeError reports malformed node bytes in a witness.
type InvalidNodeError struct {
	Reason string
}

func (e *InvalidNodeError) Error() string {
	return "zktrie: invalid node: " + e.Reason
}

// UnknownRootError reports a nearest-keys lookup against a root the store has
// no index for.
type UnknownRootError struct {
	Root types.Hash
}

func (e *UnknownRootError) Error() string {
	return fmt.Sprintf("zktrie: unknown root %s", e.Root)
}

// IndexNotFoundError reports a missing nearest-keys entry under a known root.
type IndexNotFoundError struct {
	Root  types.Hash
	Owner types.Address
	HKey  types.Hash
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("zktrie: no index for hkey %s (owner %s) at root %s", e.HKey, e.Owner, e.Root)
}
