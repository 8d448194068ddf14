package batch

import (
	"encoding/binary"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
	"github.com/holiman/uint256"
	"github.com/klauspost/compress/zstd"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// Chunk capacity per blob by codec generation.
const (
	MaxChunksV1 = 15
	MaxChunksV2 = 45
)

// maxBlobPayloadBytes is the usable payload after the 31-of-32 canonical
// packing: 4096 field elements * 31 bytes.
const maxBlobPayloadBytes = 126976

// blsModulus is the BLS12-381 scalar field modulus the challenge point is
// reduced into.
var blsModulus = uint256.MustFromHex("0x73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001")

// Compression selects the blob payload transform.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressZstd
)

// BlobPayload is the assembled data-availability blob with its versioned
// hash and the challenge opening (z, y).
type BlobPayload struct {
	Blob              goethkzg.Blob
	BlobVersionedHash types.Hash
	Proof             [2]types.Hash // z, y
}

// BuildBlobPayload packs the chunks' L2 transactions into a blob: a
// 2+4*maxChunks metadata header (chunk count and per-chunk payload sizes),
// the raw L2 tx RLPs per chunk, optional Zstd compression, the 31-byte
// canonical packing, the KZG commitment and the challenge proof.
func BuildBlobPayload(chunks []Chunk, maxChunks int, compress Compression) (*BlobPayload, error) {
	metadataLength := 2 + maxChunks*4

	blobBytes := make([]byte, metadataLength)
	// 1 hash for metadata, 1 per chunk slot, 1 for the blob versioned hash.
	challengePreimage := make([]byte, (1+maxChunks+1)*32)
	binary.BigEndian.PutUint16(blobBytes[0:2], uint16(len(chunks)))

	var chunkDataHash types.Hash
	for chunkID := range chunks {
		currentChunkStartIndex := len(blobBytes)
		for blockID := range chunks[chunkID].Blocks {
			for i := range chunks[chunkID].Blocks[blockID].Txs {
				tx := &chunks[chunkID].Blocks[blockID].Txs[i]
				if tx.L1Msg {
					continue
				}
				blobBytes = append(blobBytes, tx.RLP...)
			}
		}
		chunkSize := len(blobBytes) - currentChunkStartIndex
		if chunkSize != 0 {
			binary.BigEndian.PutUint32(blobBytes[2+4*chunkID:], uint32(chunkSize))
		}
		chunkDataHash = crypto.Keccak256Hash(blobBytes[currentChunkStartIndex:])
		copy(challengePreimage[32+chunkID*32:], chunkDataHash[:])
	}

	// Unused chunk slots repeat the last real chunk's data hash.
	for chunkID := len(chunks); chunkID < maxChunks; chunkID++ {
		copy(challengePreimage[32+chunkID*32:], chunkDataHash[:])
	}

	metadataHash := crypto.Keccak256Hash(blobBytes[:metadataLength])
	copy(challengePreimage[0:32], metadataHash[:])

	if compress == CompressZstd {
		compressed, err := compressBatchBytes(blobBytes)
		if err != nil {
			return nil, err
		}
		blobBytes = compressed
	}

	blob, err := makeBlobCanonical(blobBytes)
	if err != nil {
		return nil, err
	}

	commitment, err := crypto.BlobToCommitment(blob)
	if err != nil {
		return nil, err
	}
	blobVersionedHash := CalcBlobVersionedHash(1, commitment[:])
	copy(challengePreimage[(1+maxChunks)*32:], blobVersionedHash[:])

	// z = keccak(challenge preimage) mod BLS_MODULUS
	challengeDigest := crypto.Keccak256Hash(challengePreimage)
	point := new(uint256.Int).SetBytes(challengeDigest[:])
	point.Mod(point, blsModulus)
	z := types.BytesToHash(point.Bytes())

	_, y, err := crypto.ComputeKZGProof(blob, goethkzg.Scalar(z))
	if err != nil {
		return nil, err
	}

	return &BlobPayload{
		Blob:              *blob,
		BlobVersionedHash: blobVersionedHash,
		Proof:             [2]types.Hash{z, types.Hash(y)},
	}, nil
}

// CalcBlobVersionedHash hashes a KZG commitment with SHA-256 and stamps the
// version into the first byte.
func CalcBlobVersionedHash(version uint8, commitment []byte) types.Hash {
	h := crypto.Sha256Hash(commitment)
	h[0] = version
	return h
}

// makeBlobCanonical spreads the payload over 4096 field elements, writing
// one zero byte before every 31 payload bytes so each element stays below
// the scalar modulus.
func makeBlobCanonical(blobBytes []byte) (*goethkzg.Blob, error) {
	if len(blobBytes) > maxBlobPayloadBytes {
		return nil, ErrOversizedBatchPayload
	}
	var blob goethkzg.Blob
	index := 0
	for from := 0; from < len(blobBytes); from += 31 {
		to := from + 31
		if to > len(blobBytes) {
			to = len(blobBytes)
		}
		copy(blob[index+1:], blobBytes[from:to])
		index += 32
	}
	return &blob, nil
}

// compressBatchBytes applies Zstd to the assembled payload (V2 codec).
func compressBatchBytes(payload []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}
