package batch

import (
	"encoding/binary"
	"math"

	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// Tx is a transaction as seen by the codec: whether it is an L1 queue
// message, its nonce (queue index for L1 messages), its hash and its
// canonical encoding.
type Tx struct {
	L1Msg bool
	Nonce uint64
	Hash  types.Hash
	RLP   []byte
}

// Block is one block of a chunk.
type Block struct {
	Number    uint64
	Timestamp uint64
	BaseFee   *uint256.Int // nil encodes as zero
	GasLimit  uint64
	Hash      types.Hash
	Txs       []Tx
}

// NumL1Messages counts the queue indices this block consumes, including
// skipped ones: messages up to the last included queue index pop.
func (b *Block) NumL1Messages(totalL1MessagePoppedBefore uint64) uint64 {
	var lastQueueIndex *uint64
	for i := range b.Txs {
		if b.Txs[i].L1Msg {
			idx := b.Txs[i].Nonce
			lastQueueIndex = &idx
		}
	}
	if lastQueueIndex == nil {
		return 0
	}
	return *lastQueueIndex - totalL1MessagePoppedBefore + 1
}

// NumL2Txs counts the non-message transactions.
func (b *Block) NumL2Txs() uint64 {
	var count uint64
	for i := range b.Txs {
		if !b.Txs[i].L1Msg {
			count++
		}
	}
	return count
}

// blockEncodeLength is the fixed size of a block encoding.
const blockEncodeLength = 60

// Encode produces the 60-byte block encoding: number, timestamp, base fee
// (32-byte big-endian, zero when absent), gas limit, transaction count and
// L1 message count.
func (b *Block) Encode(totalL1MessagePoppedBefore uint64) ([]byte, error) {
	numL1Messages := b.NumL1Messages(totalL1MessagePoppedBefore)
	if numL1Messages > math.MaxUint16 {
		return nil, ErrNumL1TxTooLarge
	}
	numTransactions := numL1Messages + b.NumL2Txs()
	if numTransactions > math.MaxUint16 {
		return nil, ErrNumTxTooLarge
	}

	buf := make([]byte, blockEncodeLength)
	binary.BigEndian.PutUint64(buf[0:8], b.Number)
	binary.BigEndian.PutUint64(buf[8:16], b.Timestamp)
	if b.BaseFee != nil {
		b.BaseFee.WriteToSlice(buf[16:48])
	}
	binary.BigEndian.PutUint64(buf[48:56], b.GasLimit)
	binary.BigEndian.PutUint16(buf[56:58], uint16(numTransactions))
	binary.BigEndian.PutUint16(buf[58:60], uint16(numL1Messages))
	return buf, nil
}

// Chunk is an ordered, non-empty run of 1..=255 blocks.
type Chunk struct {
	Blocks []Block
}

// AddBlock appends a block.
func (c *Chunk) AddBlock(b Block) {
	c.Blocks = append(c.Blocks, b)
}

// NumL1Messages counts the queue indices the whole chunk consumes.
func (c *Chunk) NumL1Messages(totalL1MessagePoppedBefore uint64) uint64 {
	var total uint64
	for i := range c.Blocks {
		n := c.Blocks[i].NumL1Messages(totalL1MessagePoppedBefore)
		total += n
		totalL1MessagePoppedBefore += n
	}
	return total
}

// Encode produces the chunk payload: a block count byte, the 60-byte block
// encodings, then every L2 transaction's RLP prefixed with its u32 length.
func (c *Chunk) Encode(totalL1MessagePoppedBefore uint64) ([]byte, error) {
	numBlocks := len(c.Blocks)
	if numBlocks == 0 || numBlocks > 255 {
		return nil, &InvalidNumBlockError{NumBlocks: numBlocks}
	}

	chunkBytes := []byte{byte(numBlocks)}
	var l2TxDataBytes []byte
	for i := range c.Blocks {
		block := &c.Blocks[i]
		blockBytes, err := block.Encode(totalL1MessagePoppedBefore)
		if err != nil {
			return nil, err
		}
		totalL1MessagePoppedBefore += block.NumL1Messages(totalL1MessagePoppedBefore)
		chunkBytes = append(chunkBytes, blockBytes...)
		for j := range block.Txs {
			tx := &block.Txs[j]
			if tx.L1Msg {
				continue
			}
			var size [4]byte
			binary.BigEndian.PutUint32(size[:], uint32(len(tx.RLP)))
			l2TxDataBytes = append(l2TxDataBytes, size[:]...)
			l2TxDataBytes = append(l2TxDataBytes, tx.RLP...)
		}
	}
	return append(chunkBytes, l2TxDataBytes...), nil
}

// Hash computes the versioned chunk hash. Every version hashes the leading
// 58 bytes of each block encoding (dropping the L1-message count) followed by
// the L1 message hashes; version 0 additionally appends L2 transaction
// hashes.
func (c *Chunk) Hash(version uint8, totalL1MessagePoppedBefore uint64) (types.Hash, error) {
	chunkBytes, err := c.Encode(totalL1MessagePoppedBefore)
	if err != nil {
		return types.Hash{}, err
	}
	numBlocks := int(chunkBytes[0])
	var dataBytes []byte
	for i := 0; i < numBlocks; i++ {
		start := 1 + blockEncodeLength*i
		dataBytes = append(dataBytes, chunkBytes[start:start+58]...)
	}

	for i := range c.Blocks {
		var l1TxHashes, l2TxHashes []byte
		for j := range c.Blocks[i].Txs {
			tx := &c.Blocks[i].Txs[j]
			if tx.L1Msg {
				l1TxHashes = append(l1TxHashes, tx.Hash[:]...)
			} else if version == 0 {
				l2TxHashes = append(l2TxHashes, tx.Hash[:]...)
			}
		}
		dataBytes = append(dataBytes, l1TxHashes...)
		if version == 0 {
			dataBytes = append(dataBytes, l2TxHashes...)
		}
	}
	return crypto.Keccak256Hash(dataBytes), nil
}

// ComputeBatchDataHash hashes the chunk hashes of a batch in order.
func ComputeBatchDataHash(version uint8, chunks []Chunk, totalL1MessagePoppedBefore uint64) (types.Hash, error) {
	var dataBytes []byte
	popped := totalL1MessagePoppedBefore
	for i := range chunks {
		chunkHash, err := chunks[i].Hash(version, popped)
		if err != nil {
			return types.Hash{}, err
		}
		popped += chunks[i].NumL1Messages(popped)
		dataBytes = append(dataBytes, chunkHash[:]...)
	}
	return crypto.Keccak256Hash(dataBytes), nil
}
