package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"

	"github.com/teeprover/teeprover/types"
)

// The trie hash is MiMC over the BLS12-377 scalar field, consuming the input
// as a sequence of 32-byte big-endian field elements. Inputs shorter than one
// block are left-padded; anything else must be block-aligned and every block
// must be a canonical field element.

// ErrInvalidField is returned when a 32-byte block does not represent a
// canonical field element.
var ErrInvalidField = errors.New("crypto: value is not a valid field element")

const mimcBlockSize = 32

// TrieHash computes the MiMC hash of data. data is interpreted as 32-byte
// big-endian blocks; a short input is a single left-padded block.
func TrieHash(data []byte) (types.Hash, error) {
	if len(data) < mimcBlockSize {
		data = types.BytesToHash(data).Bytes()
	}
	if len(data)%mimcBlockSize != 0 {
		return types.Hash{}, fmt.Errorf("crypto: trie hash input length %d not block aligned", len(data))
	}
	h := mimc.NewMiMC()
	var elem fr.Element
	for off := 0; off < len(data); off += mimcBlockSize {
		block := data[off : off+mimcBlockSize]
		if err := elem.SetBytesCanonical(block); err != nil {
			return types.Hash{}, ErrInvalidField
		}
		if _, err := h.Write(block); err != nil {
			return types.Hash{}, err
		}
	}
	return types.BytesToHash(h.Sum(nil)), nil
}

// MimcSafeEncode expands a 32-byte word into two field-safe blocks: the low
// 16 bytes then the high 16 bytes, each left-padded to 32 bytes. The split
// guarantees every block is below the field modulus regardless of the word's
// numeric value.
func MimcSafeEncode(word []byte) []byte {
	w := types.BytesToHash(word)
	out := make([]byte, 64)
	copy(out[16:32], w[16:])
	copy(out[48:64], w[:16])
	return out
}

// MimcSafe hashes an arbitrary 32-byte word through the safe split-halves
// encoding. This is the hashed-key derivation for storage slots.
func MimcSafe(word []byte) (types.Hash, error) {
	return TrieHash(MimcSafeEncode(word))
}

// MimcCodeHash computes the MiMC hash of contract bytecode. The code is cut
// into 16-byte limbs (the last limb zero-padded), each left-padded to a
// 32-byte field element.
func MimcCodeHash(code []byte) types.Hash {
	limbs := (len(code) + 15) / 16
	if limbs == 0 {
		limbs = 1
	}
	buf := make([]byte, limbs*mimcBlockSize)
	for i := 0; i < limbs; i++ {
		limb := code[i*16:]
		if len(limb) > 16 {
			limb = limb[:16]
		}
		copy(buf[i*mimcBlockSize+16:], limb)
	}
	h, err := TrieHash(buf)
	if err != nil {
		// 16-byte limbs are always canonical.
		panic(err)
	}
	return h
}

// EmptyMimcCodeHash is the MiMC hash of empty bytecode.
var EmptyMimcCodeHash = MimcCodeHash(nil)

// MaxFieldElement is the largest canonical field element, used as the hashed
// key of the tail sentinel.
var MaxFieldElement = func() types.Hash {
	mod := fr.Modulus()
	mod.Sub(mod, big.NewInt(1))
	return types.BytesToHash(mod.Bytes())
}()
