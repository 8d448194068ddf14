package batch

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Task is a commit-batch work item parsed from L1 calldata: the parent batch
// header and the block numbers of every chunk.
type Task struct {
	Chunks [][]uint64
	Parent Header
}

// ID returns the batch index this task will produce.
func (t *Task) ID() uint64 {
	return t.Parent.BatchIndex() + 1
}

// Start returns the first block number of the batch.
func (t *Task) Start() (uint64, bool) {
	if len(t.Chunks) == 0 || len(t.Chunks[0]) == 0 {
		return 0, false
	}
	return t.Chunks[0][0], true
}

// End returns the last block number of the batch.
func (t *Task) End() (uint64, bool) {
	if len(t.Chunks) == 0 {
		return 0, false
	}
	last := t.Chunks[len(t.Chunks)-1]
	if len(last) == 0 {
		return 0, false
	}
	return last[len(last)-1], true
}

// BlockNumbers flattens the chunk layout.
func (t *Task) BlockNumbers() []uint64 {
	var out []uint64
	for _, chunk := range t.Chunks {
		out = append(out, chunk...)
	}
	return out
}

// TaskFromCalldata parses the commitBatch calldata: after the leading version
// word, argument 1 is the parent batch header bytes and argument 2 the array
// of chunk block-range encodings.
func TaskFromCalldata(data []byte) (*Task, error) {
	parentBytes, err := solidityParseBytes(32, data)
	if err != nil {
		return nil, fmt.Errorf("batch: parse parent header: %w", err)
	}
	chunkBytes, err := solidityParseBytesArray(64, data)
	if err != nil {
		return nil, fmt.Errorf("batch: parse chunks: %w", err)
	}
	parent, err := DecodeHeader(parentBytes)
	if err != nil {
		return nil, err
	}
	task := &Task{Parent: parent}
	for _, cb := range chunkBytes {
		numbers, ok := decodeBlockNumbers(cb)
		if !ok {
			return nil, fmt.Errorf("batch: invalid chunk block numbers (%d bytes)", len(cb))
		}
		task.Chunks = append(task.Chunks, numbers)
	}
	return task, nil
}

// decodeBlockNumbers reads a chunk's block numbers from the on-chain chunk
// encoding: a count byte followed by 60-byte block contexts whose first 8
// bytes are the block number.
func decodeBlockNumbers(data []byte) ([]uint64, bool) {
	if len(data) == 0 {
		return nil, false
	}
	numBlocks := int(data[0])
	if numBlocks == 0 || len(data) < 1+numBlocks*blockEncodeLength {
		return nil, false
	}
	out := make([]uint64, 0, numBlocks)
	for i := 0; i < numBlocks; i++ {
		off := 1 + i*blockEncodeLength
		var number uint64
		for _, b := range data[off : off+8] {
			number = number<<8 | uint64(b)
		}
		out = append(out, number)
	}
	return out, true
}

func solidityParseBytes(offset int, data []byte) ([]byte, error) {
	if len(data) < offset+32 {
		return nil, fmt.Errorf("calldata too short for offset word at %d", offset)
	}
	dataOffset := wordToInt(data[offset : offset+32])
	if dataOffset < 0 || len(data) < dataOffset+32 {
		return nil, fmt.Errorf("bytes offset out of range")
	}
	dataLen := wordToInt(data[dataOffset : dataOffset+32])
	content := dataOffset + 32
	if dataLen < 0 || len(data) < content+dataLen {
		return nil, fmt.Errorf("bytes length out of range")
	}
	return append([]byte(nil), data[content:content+dataLen]...), nil
}

func solidityParseBytesArray(offset int, data []byte) ([][]byte, error) {
	if len(data) < offset+32 {
		return nil, fmt.Errorf("calldata too short for offset word at %d", offset)
	}
	arrayOffset := wordToInt(data[offset : offset+32])
	if arrayOffset < 0 || len(data) < arrayOffset+32 {
		return nil, fmt.Errorf("array offset out of range")
	}
	count := wordToInt(data[arrayOffset : arrayOffset+32])
	if count < 0 {
		return nil, fmt.Errorf("array length out of range")
	}
	base := arrayOffset + 32
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		// Element offsets are relative to the start of the head slots.
		item, err := solidityParseBytes(32*i, data[base:])
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func wordToInt(word []byte) int {
	v := new(uint256.Int).SetBytes(word)
	if !v.IsUint64() || v.Uint64() > 1<<31 {
		return -1
	}
	return int(v.Uint64())
}

// HardforkConfig maps block heights to the batch codec version in force.
type HardforkConfig struct {
	BernoulliBlock uint64 // activates V1
	CurieBlock     uint64 // activates V2
}

// BatchVersion returns the codec version for a batch ending at blockNumber.
func (c HardforkConfig) BatchVersion(blockNumber uint64) uint8 {
	switch {
	case c.CurieBlock > 0 && blockNumber >= c.CurieBlock:
		return 2
	case c.BernoulliBlock > 0 && blockNumber >= c.BernoulliBlock:
		return 1
	default:
		return 0
	}
}

// Builder assembles a batch from blocks arriving in order, enforcing the
// task's chunk layout, then seals header, bitmap and blob payload.
type Builder struct {
	version uint8
	numbers [][]uint64
	chunks  []Chunk

	currentChunkID int
	currentBlockID int
}

// NewBuilder validates the target-vs-parent version pairing: a batch of
// version v may only follow a parent of version v or v-1.
func NewBuilder(fork HardforkConfig, parent Header, chunks [][]uint64) (*Builder, error) {
	if len(chunks) == 0 || len(chunks[len(chunks)-1]) == 0 {
		return nil, ErrMissingChunks
	}
	lastBlock := chunks[len(chunks)-1][len(chunks[len(chunks)-1])-1]
	version := fork.BatchVersion(lastBlock)
	pv := parent.Version()
	if version != pv && version != pv+1 {
		return nil, &MismatchBatchVersionAndBlockError{
			BlockBatchVersion:  version,
			ParentBatchVersion: pv,
		}
	}
	return &Builder{version: version, numbers: chunks}, nil
}

// Version returns the codec version the builder targets.
func (b *Builder) Version() uint8 { return b.version }

// AddBlock inserts the next block, which must arrive in the task's chunk
// order.
func (b *Builder) AddBlock(block Block) error {
	for chunkID, chunk := range b.numbers {
		for blockID, number := range chunk {
			if number != block.Number {
				continue
			}
			expectChunkID := b.currentChunkID
			expectBlockID := b.currentBlockID
			if expectBlockID == len(b.numbers[b.currentChunkID]) {
				expectChunkID++
				expectBlockID = 0
			}
			if expectBlockID != blockID || expectChunkID != chunkID {
				return &UnexpectedBlockError{
					WantBlock: expectBlockID, WantChunk: expectChunkID,
					GotBlock: blockID, GotChunk: chunkID,
				}
			}
			if blockID == 0 {
				b.chunks = append(b.chunks, Chunk{})
			}
			b.chunks[chunkID].AddBlock(block)
			b.currentChunkID = chunkID
			b.currentBlockID = blockID + 1
			return nil
		}
	}
	return ErrUnknownBlock
}

// Build seals the batch against its parent header: chunk hashes into the
// data hash, the skipped-L1 bitmap, and for V1/V2 the blob versioned hash.
func (b *Builder) Build(parent Header) (Header, error) {
	maxChunks := MaxChunksV1
	compress := CompressNone
	switch b.version {
	case 0:
		// no blob
	case 1:
	case 2:
		maxChunks = MaxChunksV2
		compress = CompressZstd
	default:
		return nil, &UnknownBatchVersionError{Version: b.version}
	}
	if len(b.chunks) == 0 {
		return nil, ErrMissingChunks
	}
	if b.version > 0 && len(b.chunks) > maxChunks {
		return nil, &TooManyChunksError{Max: maxChunks}
	}

	batchIndex := parent.BatchIndex() + 1
	totalBefore := parent.TotalL1MessagePopped()

	dataHash, err := ComputeBatchDataHash(b.version, b.chunks, totalBefore)
	if err != nil {
		return nil, err
	}
	bitmapBytes, totalAfter, err := ConstructSkippedBitmap(batchIndex, b.chunks, totalBefore)
	if err != nil {
		return nil, err
	}

	if b.version == 0 {
		return &HeaderV0{
			Ver:                    0,
			BatchIdx:               batchIndex,
			L1MessagePopped:        totalAfter - totalBefore,
			TotalL1MessagePoppedV:  totalAfter,
			DataHash:               dataHash,
			ParentHash:             parent.Hash(),
			SkippedL1MessageBitmap: bitmapBytes,
		}, nil
	}

	payload, err := BuildBlobPayload(b.chunks, maxChunks, compress)
	if err != nil {
		return nil, err
	}
	return &HeaderV1{
		Ver:                    b.version,
		BatchIdx:               batchIndex,
		L1MessagePopped:        totalAfter - totalBefore,
		TotalL1MessagePoppedV:  totalAfter,
		DataHash:               dataHash,
		BlobVersionedHash:      payload.BlobVersionedHash,
		ParentHash:             parent.Hash(),
		SkippedL1MessageBitmap: bitmapBytes,
	}, nil
}
