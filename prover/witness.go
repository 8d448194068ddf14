package prover

import (
	"bytes"
	"sort"

	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

// WitnessBuilder accumulates everything a block's re-execution needs — trie
// node encodings, contract codes, ancestor block hashes — and seals it into a
// content-addressed witness. Duplicate nodes and codes collapse, so feeding
// the builder from overlapping proofs is cheap.
type WitnessBuilder struct {
	block PobBlock
	data  PobData
	nodes map[string]struct{}
	codes map[string]struct{}
}

// NewWitnessBuilder starts a witness for one block anchored at the given
// pre-state root.
func NewWitnessBuilder(block PobBlock, chainID uint64, prevStateRoot types.Hash) *WitnessBuilder {
	return &WitnessBuilder{
		block: block,
		data: PobData{
			ChainID:       chainID,
			PrevStateRoot: prevStateRoot,
			BlockHashes:   make(map[uint64]types.Hash),
		},
		nodes: make(map[string]struct{}),
		codes: make(map[string]struct{}),
	}
}

// AddNode records one trie node's wire encoding.
func (b *WitnessBuilder) AddNode(enc []byte) {
	k := string(enc)
	if _, ok := b.nodes[k]; ok {
		return
	}
	b.nodes[k] = struct{}{}
	b.data.MptNodes = append(b.data.MptNodes, bytes.Clone(enc))
}

// AddNodes records a batch of node encodings, the form proof replay emits.
func (b *WitnessBuilder) AddNodes(nodes []*zktrie.Node) {
	for _, n := range nodes {
		b.AddNode(n.Encode())
	}
}

// AddCode records one contract's bytecode.
func (b *WitnessBuilder) AddCode(code []byte) {
	k := string(code)
	if _, ok := b.codes[k]; ok {
		return
	}
	b.codes[k] = struct{}{}
	b.data.Codes = append(b.data.Codes, bytes.Clone(code))
}

// AddBlockHash records an ancestor hash for BLOCKHASH lookups.
func (b *WitnessBuilder) AddBlockHash(number uint64, hash types.Hash) {
	b.data.BlockHashes[number] = hash
}

// SetCoinbase overrides the header miner with a recovered clique signer.
func (b *WitnessBuilder) SetCoinbase(addr types.Address) {
	b.data.Coinbase = &addr
}

// SetStartL1QueueIndex records the first L1 queue index the block may pop.
func (b *WitnessBuilder) SetStartL1QueueIndex(idx uint64) {
	b.data.StartL1QueueIdx = idx
}

// SetWithdrawalRoot records the reference withdrawal root.
func (b *WitnessBuilder) SetWithdrawalRoot(root types.Hash) {
	b.data.WithdrawalRoot = root
}

// Seal produces the finished witness. Codes are sorted alongside the nodes so
// the hash is independent of collection order.
func (b *WitnessBuilder) Seal() *Pob {
	sort.Slice(b.data.Codes, func(i, j int) bool {
		return compareBytes(b.data.Codes[i], b.data.Codes[j]) < 0
	})
	return NewPob(b.block, b.data)
}
