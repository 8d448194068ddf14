package batch

import (
	"encoding/binary"
	"fmt"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// Header is a versioned batch header. V0 carries no blob hash; V1 and V2
// share the 121-byte layout (V2 compresses the blob payload but encodes
// identically on the wire).
type Header interface {
	Version() uint8
	BatchIndex() uint64
	TotalL1MessagePopped() uint64
	ParentBatchHash() types.Hash
	Encode() []byte
	Hash() types.Hash
}

// header sizes excluding the trailing bitmap.
const (
	headerV0Length = 89
	headerV1Length = 121
)

// HeaderV0 is the version-0 layout.
type HeaderV0 struct {
	Ver                    uint8
	BatchIdx               uint64
	L1MessagePopped        uint64
	TotalL1MessagePoppedV  uint64
	DataHash               types.Hash
	ParentHash             types.Hash
	SkippedL1MessageBitmap []byte
}

// Version implements Header.
func (h *HeaderV0) Version() uint8 { return h.Ver }

// BatchIndex implements Header.
func (h *HeaderV0) BatchIndex() uint64 { return h.BatchIdx }

// TotalL1MessagePopped implements Header.
func (h *HeaderV0) TotalL1MessagePopped() uint64 { return h.TotalL1MessagePoppedV }

// ParentBatchHash implements Header.
func (h *HeaderV0) ParentBatchHash() types.Hash { return h.ParentHash }

// Encode implements Header.
func (h *HeaderV0) Encode() []byte {
	buf := make([]byte, headerV0Length, headerV0Length+len(h.SkippedL1MessageBitmap))
	buf[0] = h.Ver
	binary.BigEndian.PutUint64(buf[1:9], h.BatchIdx)
	binary.BigEndian.PutUint64(buf[9:17], h.L1MessagePopped)
	binary.BigEndian.PutUint64(buf[17:25], h.TotalL1MessagePoppedV)
	copy(buf[25:57], h.DataHash[:])
	copy(buf[57:89], h.ParentHash[:])
	return append(buf, h.SkippedL1MessageBitmap...)
}

// Hash implements Header.
func (h *HeaderV0) Hash() types.Hash {
	return crypto.Keccak256Hash(h.Encode())
}

// HeaderV1 is the layout shared by versions 1 and 2: V0 plus the blob
// versioned hash between the data hash and the parent hash.
type HeaderV1 struct {
	Ver                    uint8
	BatchIdx               uint64
	L1MessagePopped        uint64
	TotalL1MessagePoppedV  uint64
	DataHash               types.Hash
	BlobVersionedHash      types.Hash
	ParentHash             types.Hash
	SkippedL1MessageBitmap []byte
}

// Version implements Header.
func (h *HeaderV1) Version() uint8 { return h.Ver }

// BatchIndex implements Header.
func (h *HeaderV1) BatchIndex() uint64 { return h.BatchIdx }

// TotalL1MessagePopped implements Header.
func (h *HeaderV1) TotalL1MessagePopped() uint64 { return h.TotalL1MessagePoppedV }

// ParentBatchHash implements Header.
func (h *HeaderV1) ParentBatchHash() types.Hash { return h.ParentHash }

// Encode implements Header.
func (h *HeaderV1) Encode() []byte {
	buf := make([]byte, headerV1Length, headerV1Length+len(h.SkippedL1MessageBitmap))
	buf[0] = h.Ver
	binary.BigEndian.PutUint64(buf[1:9], h.BatchIdx)
	binary.BigEndian.PutUint64(buf[9:17], h.L1MessagePopped)
	binary.BigEndian.PutUint64(buf[17:25], h.TotalL1MessagePoppedV)
	copy(buf[25:57], h.DataHash[:])
	copy(buf[57:89], h.BlobVersionedHash[:])
	copy(buf[89:121], h.ParentHash[:])
	return append(buf, h.SkippedL1MessageBitmap...)
}

// Hash implements Header.
func (h *HeaderV1) Hash() types.Hash {
	return crypto.Keccak256Hash(h.Encode())
}

// DecodeHeader parses a batch header by its leading version byte.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("batch: empty header bytes")
	}
	switch version := data[0]; version {
	case 0:
		if len(data) < headerV0Length {
			return nil, fmt.Errorf("batch: v0 header %d bytes, want at least %d", len(data), headerV0Length)
		}
		return &HeaderV0{
			Ver:                    version,
			BatchIdx:               binary.BigEndian.Uint64(data[1:9]),
			L1MessagePopped:        binary.BigEndian.Uint64(data[9:17]),
			TotalL1MessagePoppedV:  binary.BigEndian.Uint64(data[17:25]),
			DataHash:               types.BytesToHash(data[25:57]),
			ParentHash:             types.BytesToHash(data[57:89]),
			SkippedL1MessageBitmap: append([]byte(nil), data[89:]...),
		}, nil
	case 1, 2:
		if len(data) < headerV1Length {
			return nil, fmt.Errorf("batch: v%d header %d bytes, want at least %d", version, len(data), headerV1Length)
		}
		return &HeaderV1{
			Ver:                    version,
			BatchIdx:               binary.BigEndian.Uint64(data[1:9]),
			L1MessagePopped:        binary.BigEndian.Uint64(data[9:17]),
			TotalL1MessagePoppedV:  binary.BigEndian.Uint64(data[17:25]),
			DataHash:               types.BytesToHash(data[25:57]),
			BlobVersionedHash:      types.BytesToHash(data[57:89]),
			ParentHash:             types.BytesToHash(data[89:121]),
			SkippedL1MessageBitmap: append([]byte(nil), data[121:]...),
		}, nil
	default:
		return nil, &UnknownBatchVersionError{Version: version}
	}
}
