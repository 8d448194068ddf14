package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/teeprover/teeprover/crypto"
	"github.com/teeprover/teeprover/types"
)

// BlockHeader carries the header fields needed for clique signer recovery
// and batch construction.
type BlockHeader struct {
	ParentHash  types.Hash
	UncleHash   types.Hash
	Coinbase    types.Address
	Root        types.Hash
	TxHash      types.Hash
	ReceiptHash types.Hash
	Bloom       [256]byte
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   types.Hash
	Nonce       [8]byte
	BaseFee     *big.Int
}

// extraSealLength is the trailing signature appended to extraData by the
// sealer.
const extraSealLength = 65

// SealHash hashes the header with the seal signature stripped from
// extraData. The base fee joins the list only when present.
func SealHash(h *BlockHeader) (types.Hash, error) {
	if len(h.Extra) < extraSealLength {
		return types.Hash{}, fmt.Errorf("executor: extra data %d bytes, below seal length", len(h.Extra))
	}
	extra := h.Extra[:len(h.Extra)-extraSealLength]
	fields := []interface{}{
		h.ParentHash,
		h.UncleHash,
		h.Coinbase,
		h.Root,
		h.TxHash,
		h.ReceiptHash,
		h.Bloom[:],
		h.Difficulty,
		h.Number,
		h.GasLimit,
		h.GasUsed,
		h.Time,
		extra,
		h.MixDigest,
		h.Nonce[:],
	}
	if h.BaseFee != nil {
		fields = append(fields, h.BaseFee)
	}
	enc, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// RecoverCoinbase recovers the block sealer from the signature in the last
// 65 bytes of extraData.
func RecoverCoinbase(h *BlockHeader) (types.Address, error) {
	digest, err := SealHash(h)
	if err != nil {
		return types.Address{}, err
	}
	sig := h.Extra[len(h.Extra)-extraSealLength:]
	return crypto.RecoverAddress(digest, sig)
}
