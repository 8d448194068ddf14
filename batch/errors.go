// Package batch implements the versioned data-availability batch codec:
// chunk and block encodings, skipped-L1-message accounting, batch headers
// and the KZG blob payload with its challenge proof.
package batch

import (
	"errors"
	"fmt"

	"github.com/teeprover/teeprover/types"
)

var (
	// ErrNumTxTooLarge rejects blocks whose transaction count exceeds u16.
	ErrNumTxTooLarge = errors.New("batch: too many transactions in block")

	// ErrNumL1TxTooLarge rejects blocks whose L1 message count exceeds u16.
	ErrNumL1TxTooLarge = errors.New("batch: too many l1 messages in block")

	// ErrOversizedBatchPayload rejects blob payloads above the 126,976-byte
	// cap.
	ErrOversizedBatchPayload = errors.New("batch: oversized batch payload")

	// ErrMissingChunks rejects empty batches.
	ErrMissingChunks = errors.New("batch: batch has no chunks")

	// ErrUnknownBlock reports a block that belongs to no chunk of the task.
	ErrUnknownBlock = errors.New("batch: block not part of batch task")
)

// UnknownBatchVersionError reports an unrecognized header version byte.
type UnknownBatchVersionError struct {
	Version uint8
}

func (e *UnknownBatchVersionError) Error() string {
	return fmt.Sprintf("batch: unknown batch version %d", e.Version)
}

// MismatchBatchVersionAndBlockError reports an unsupported pairing of target
// and parent batch versions.
type MismatchBatchVersionAndBlockError struct {
	BlockBatchVersion  uint8
	ParentBatchVersion uint8
}

func (e *MismatchBatchVersionAndBlockError) Error() string {
	return fmt.Sprintf("batch: version %d cannot follow parent version %d",
		e.BlockBatchVersion, e.ParentBatchVersion)
}

// InvalidL1NonceError reports an L1 message whose queue index regressed.
type InvalidL1NonceError struct {
	Expect  uint64
	Current uint64
	BatchID uint64
	ChunkID int
	BlockID int
	TxHash  types.Hash
}

func (e *InvalidL1NonceError) Error() string {
	return fmt.Sprintf("batch: invalid l1 nonce for tx %s in batch %d chunk %d block %d: expect >= %d, got %d",
		e.TxHash, e.BatchID, e.ChunkID, e.BlockID, e.Expect, e.Current)
}

// InvalidNumBlockError rejects chunks outside the 1..=255 block range.
type InvalidNumBlockError struct {
	NumBlocks int
}

func (e *InvalidNumBlockError) Error() string {
	return fmt.Sprintf("batch: chunk has %d blocks, want 1..=255", e.NumBlocks)
}

// TooManyChunksError rejects batches above the per-version chunk cap.
type TooManyChunksError struct {
	Max int
}

func (e *TooManyChunksError) Error() string {
	return fmt.Sprintf("batch: more than %d chunks", e.Max)
}

// UnexpectedBlockError reports out-of-order block insertion into the
// builder.
type UnexpectedBlockError struct {
	WantBlock, WantChunk int
	GotBlock, GotChunk   int
}

func (e *UnexpectedBlockError) Error() string {
	return fmt.Sprintf("batch: unexpected block, want [%d.%d], got [%d.%d]",
		e.WantBlock, e.WantChunk, e.GotBlock, e.GotChunk)
}
