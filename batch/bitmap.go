package batch

import (
	"github.com/holiman/uint256"
)

// ConstructSkippedBitmap walks every L1 message of the batch in order and
// marks the queue indices between the running expectation and the message's
// index as skipped. It returns the bitmap words serialized big-endian and
// the total popped count after the batch. A message whose queue index
// regresses below the expectation is rejected.
func ConstructSkippedBitmap(batchIndex uint64, chunks []Chunk, totalL1MessagePoppedBefore uint64) ([]byte, uint64, error) {
	var skippedBitmap []*uint256.Int

	// the first queue index that belongs to this batch
	baseIndex := totalL1MessagePoppedBefore
	// the next queue index we expect to process
	nextIndex := totalL1MessagePoppedBefore

	for chunkID := range chunks {
		for blockID := range chunks[chunkID].Blocks {
			block := &chunks[chunkID].Blocks[blockID]
			for i := range block.Txs {
				tx := &block.Txs[i]
				if !tx.L1Msg {
					continue
				}
				currentIndex := tx.Nonce
				if currentIndex < nextIndex {
					return nil, 0, &InvalidL1NonceError{
						Expect:  nextIndex,
						Current: currentIndex,
						BatchID: batchIndex,
						ChunkID: chunkID,
						BlockID: blockID,
						TxHash:  tx.Hash,
					}
				}

				// mark skipped messages
				for skipped := nextIndex; skipped < currentIndex; skipped++ {
					quo := int((skipped - baseIndex) / 256)
					rem := uint((skipped - baseIndex) % 256)
					for len(skippedBitmap) <= quo {
						skippedBitmap = append(skippedBitmap, uint256.NewInt(0))
					}
					setBit(skippedBitmap[quo], rem)
				}

				// process included message
				quo := int((currentIndex - baseIndex) / 256)
				for len(skippedBitmap) <= quo {
					skippedBitmap = append(skippedBitmap, uint256.NewInt(0))
				}
				nextIndex = currentIndex + 1
			}
		}
	}

	bitmapBytes := make([]byte, len(skippedBitmap)*32)
	for i, word := range skippedBitmap {
		word.WriteToSlice(bitmapBytes[32*i : 32*(i+1)])
	}
	return bitmapBytes, nextIndex, nil
}

func setBit(word *uint256.Int, bit uint) {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), bit)
	word.Or(word, mask)
}
