package types

import (
	"github.com/holiman/uint256"
)

// Account is the zkEVM account record stored in the account trie. An account
// is empty iff it has zero nonce, balance and code size together with the
// default hashes of a live state (empty-trie root, empty-code hashes); empty
// accounts have no trie leaf.
type Account struct {
	Nonce          uint64
	Balance        *uint256.Int
	StorageRoot    Hash // root of the per-account storage sub-trie
	MimcCodeHash   Hash
	KeccakCodeHash Hash
	CodeSize       uint64
}

// NewAccount returns an account with a zero balance and the supplied default
// hashes. The defaults for a live state (empty-trie root, empty-code hashes)
// are injected by the state layer so this package stays hash-scheme agnostic.
func NewAccount(storageRoot, mimcCodeHash, keccakCodeHash Hash) *Account {
	return &Account{
		Balance:        uint256.NewInt(0),
		StorageRoot:    storageRoot,
		MimcCodeHash:   mimcCodeHash,
		KeccakCodeHash: keccakCodeHash,
	}
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	cp := *a
	cp.Balance = new(uint256.Int).Set(a.Balance)
	return &cp
}

// Equal reports whether two accounts hold identical field values.
func (a *Account) Equal(other *Account) bool {
	return a.Nonce == other.Nonce &&
		a.Balance.Eq(other.Balance) &&
		a.StorageRoot == other.StorageRoot &&
		a.MimcCodeHash == other.MimcCodeHash &&
		a.KeccakCodeHash == other.KeccakCodeHash &&
		a.CodeSize == other.CodeSize
}

// Encode returns the 192-byte plain encoding: nonce, balance, storage root,
// mimc code hash, keccak code hash, code size, each as a 32-byte big-endian
// word. This is the form stored as the raw leaf value.
func (a *Account) Encode() []byte {
	buf := make([]byte, 192)
	writeU64(buf[0:32], a.Nonce)
	a.Balance.WriteToSlice(buf[32:64])
	copy(buf[64:96], a.StorageRoot[:])
	copy(buf[96:128], a.MimcCodeHash[:])
	copy(buf[128:160], a.KeccakCodeHash[:])
	writeU64(buf[160:192], a.CodeSize)
	return buf
}

// DecodeAccount parses the 192-byte plain encoding. A zero-length input
// decodes to nil, meaning "no leaf".
func DecodeAccount(buf []byte) (*Account, bool) {
	if len(buf) == 0 {
		return nil, false
	}
	if len(buf) != 192 {
		return nil, false
	}
	acc := &Account{Balance: new(uint256.Int)}
	acc.Nonce = readU64(buf[0:32])
	acc.Balance.SetBytes(buf[32:64])
	copy(acc.StorageRoot[:], buf[64:96])
	copy(acc.MimcCodeHash[:], buf[96:128])
	copy(acc.KeccakCodeHash[:], buf[128:160])
	acc.CodeSize = readU64(buf[160:192])
	return acc, true
}

// EncodeMimcSafe returns the 224-byte field-safe encoding hashed into the
// account leaf: nonce, balance, storage root and mimc code hash as 32-byte
// words, then the keccak code hash split into its low and high 16-byte
// halves (each left-padded to 32 bytes, low half first), then the code size.
// Every 32-byte block is below the field modulus by construction.
func (a *Account) EncodeMimcSafe() []byte {
	buf := make([]byte, 224)
	writeU64(buf[0:32], a.Nonce)
	a.Balance.WriteToSlice(buf[32:64])
	copy(buf[64:96], a.StorageRoot[:])
	copy(buf[96:128], a.MimcCodeHash[:])
	copy(buf[144:160], a.KeccakCodeHash[16:])
	copy(buf[176:192], a.KeccakCodeHash[:16])
	writeU64(buf[192:224], a.CodeSize)
	return buf
}

// StorageValue is a 32-byte storage word. The zero value means "deleted" and
// removes the leaf.
type StorageValue Hash

// IsZero reports whether the word is zero.
func (v StorageValue) IsZero() bool {
	return Hash(v).IsZero()
}

// Bytes returns the full 32-byte representation.
func (v StorageValue) Bytes() []byte { return v[:] }

// Trimmed returns the encoding with leading zero bytes removed, the form
// stored as the raw leaf value. The zero word encodes to nil.
func (v StorageValue) Trimmed() []byte {
	for i := 0; i < HashLength; i++ {
		if v[i] != 0 {
			return v[i:]
		}
	}
	return nil
}

// DecodeStorageValue parses a zero-trimmed storage word.
func DecodeStorageValue(buf []byte) StorageValue {
	var v StorageValue
	if len(buf) > HashLength {
		buf = buf[len(buf)-HashLength:]
	}
	copy(v[HashLength-len(buf):], buf)
	return v
}

func writeU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[len(dst)-1-i] = byte(v >> (8 * i))
	}
}

func readU64(src []byte) uint64 {
	var v uint64
	for _, b := range src[len(src)-8:] {
		v = v<<8 | uint64(b)
	}
	return v
}
