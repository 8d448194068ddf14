package prover

import (
	"encoding/binary"
	"sort"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// PobBlock is the block portion of a proof-of-block witness: the header
// fields execution needs plus the canonical transaction encodings.
type PobBlock struct {
	Miner         types.Address
	StateRoot     types.Hash
	Difficulty    types.Hash
	Number        uint64
	GasLimit      uint64
	Timestamp     uint64
	MixHash       types.Hash
	BaseFeePerGas *types.Hash // nil before the fee market
	BlockHash     types.Hash
	Transactions  [][]byte
}

// PobData is the state portion of a witness: everything needed to rebuild
// the in-memory database for one block.
type PobData struct {
	ChainID         uint64
	Coinbase        *types.Address
	PrevStateRoot   types.Hash
	BlockHashes     map[uint64]types.Hash
	MptNodes        [][]byte
	Codes           [][]byte
	StartL1QueueIdx uint64
	WithdrawalRoot  types.Hash
}

// Pob is one block's witness, content-addressed by its hash.
type Pob struct {
	Block PobBlock
	Data  PobData
	Hash  types.Hash
}

// NewPob seals a witness: the trie nodes are sorted for determinism and the
// content hash computed.
func NewPob(block PobBlock, data PobData) *Pob {
	sort.Slice(data.MptNodes, func(i, j int) bool {
		return compareBytes(data.MptNodes[i], data.MptNodes[j]) < 0
	})
	pob := &Pob{Block: block, Data: data}
	pob.Hash = pob.pobHash()
	return pob
}

// DataHash hashes the state portion of the witness.
func (d *PobData) DataHash() types.Hash {
	var buf [8]byte
	h := newKeccakAccumulator()
	binary.BigEndian.PutUint64(buf[:], d.ChainID)
	h.write(buf[:])
	h.write(d.PrevStateRoot[:])
	binary.BigEndian.PutUint64(buf[:], uint64(len(d.BlockHashes)))
	h.write(buf[:])
	numbers := make([]uint64, 0, len(d.BlockHashes))
	for n := range d.BlockHashes {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for _, n := range numbers {
		binary.BigEndian.PutUint64(buf[:], n)
		h.write(buf[:])
		bh := d.BlockHashes[n]
		h.write(bh[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(d.MptNodes)))
	h.write(buf[:])
	for _, node := range d.MptNodes {
		h.write(node)
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(d.Codes)))
	h.write(buf[:])
	for _, code := range d.Codes {
		h.write(code)
	}
	binary.BigEndian.PutUint64(buf[:], d.StartL1QueueIdx)
	h.write(buf[:])
	h.write(d.WithdrawalRoot[:])
	return h.sum()
}

func (p *Pob) pobHash() types.Hash {
	dataHash := p.Data.DataHash()
	return crypto.Keccak256Hash(p.Block.BlockHash[:], dataHash[:])
}

type keccakAccumulator struct {
	chunks [][]byte
}

func newKeccakAccumulator() *keccakAccumulator { return &keccakAccumulator{} }

func (a *keccakAccumulator) write(b []byte) {
	a.chunks = append(a.chunks, b)
}

func (a *keccakAccumulator) sum() types.Hash {
	return crypto.Keccak256Hash(a.chunks...)
}

// CompressedPobList is a witness bundle for a block range: shared trie nodes
// and codes are interned once and blocks reference them by offset.
type CompressedPobList struct {
	Pobs      []*InternedPob
	Interning [][]byte
	Hash      types.Hash
}

// InternedPob mirrors Pob with node and code payloads replaced by interning
// offsets.
type InternedPob struct {
	Block    PobBlock
	Data     PobData // MptNodes and Codes empty
	MptRefs  []uint32
	CodeRefs []uint32
	Hash     types.Hash
}

// CompressPobList interns the shared byte strings of a witness list. The
// bundle hash chains the per-block witness hashes.
func CompressPobList(list []*Pob) *CompressedPobList {
	offsets := make(map[string]uint32)
	var interning [][]byte
	intern := func(b []byte) uint32 {
		k := string(b)
		if off, ok := offsets[k]; ok {
			return off
		}
		off := uint32(len(interning))
		offsets[k] = off
		interning = append(interning, b)
		return off
	}

	bundle := &CompressedPobList{}
	hashChunks := make([][]byte, 0, len(list))
	for _, pob := range list {
		ip := &InternedPob{Block: pob.Block, Hash: pob.Hash}
		ip.Data = pob.Data
		ip.Data.MptNodes = nil
		ip.Data.Codes = nil
		for _, node := range pob.Data.MptNodes {
			ip.MptRefs = append(ip.MptRefs, intern(node))
		}
		for _, code := range pob.Data.Codes {
			ip.CodeRefs = append(ip.CodeRefs, intern(code))
		}
		bundle.Pobs = append(bundle.Pobs, ip)
		hashChunks = append(hashChunks, pob.Hash.Bytes())
	}
	bundle.Interning = interning
	bundle.Hash = crypto.Keccak256Hash(hashChunks...)
	return bundle
}

// Unwrap restores the full witness list from the bundle.
func (c *CompressedPobList) Unwrap() []*Pob {
	out := make([]*Pob, 0, len(c.Pobs))
	for _, ip := range c.Pobs {
		data := ip.Data
		for _, ref := range ip.MptRefs {
			data.MptNodes = append(data.MptNodes, c.Interning[ref])
		}
		for _, ref := range ip.CodeRefs {
			data.Codes = append(data.Codes, c.Interning[ref])
		}
		out = append(out, NewPob(ip.Block, data))
	}
	return out
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
