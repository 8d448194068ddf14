package types

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
)

func testAccount() *Account {
	return &Account{
		Nonce:          9,
		Balance:        uint256.NewInt(12345),
		StorageRoot:    HexToHash("0x11"),
		MimcCodeHash:   HexToHash("0x22"),
		KeccakCodeHash: HexToHash("0xaabbccddeeff00112233445566778899ffeeddccbbaa99887766554433221100"),
		CodeSize:       64,
	}
}

func TestAccountEncodeDecode(t *testing.T) {
	acc := testAccount()
	enc := acc.Encode()
	if len(enc) != 192 {
		t.Fatalf("encoding = %d bytes, want 192", len(enc))
	}
	decoded, ok := DecodeAccount(enc)
	if !ok {
		t.Fatal("decode failed")
	}
	if !decoded.Equal(acc) {
		t.Fatalf("round trip diverged: %+v vs %+v", decoded, acc)
	}
	if _, ok := DecodeAccount(nil); ok {
		t.Fatal("nil decoded to an account")
	}
	if _, ok := DecodeAccount(make([]byte, 100)); ok {
		t.Fatal("truncated bytes decoded to an account")
	}
}

func TestAccountMimcSafeLayout(t *testing.T) {
	acc := testAccount()
	enc := acc.EncodeMimcSafe()
	if len(enc) != 224 {
		t.Fatalf("safe encoding = %d bytes, want 224", len(enc))
	}
	// Keccak code hash: low half first, high half second, each left-padded
	// into its own 32-byte block.
	if !bytes.Equal(enc[144:160], acc.KeccakCodeHash[16:]) {
		t.Fatalf("low half misplaced: %x", enc[128:160])
	}
	if !bytes.Equal(enc[176:192], acc.KeccakCodeHash[:16]) {
		t.Fatalf("high half misplaced: %x", enc[160:192])
	}
	for _, i := range []int{128, 143, 160, 175} {
		if enc[i] != 0 {
			t.Fatalf("padding byte %d = %#x", i, enc[i])
		}
	}
}

func TestStorageValueTrimming(t *testing.T) {
	v := StorageValue(HexToHash("0xff00"))
	trimmed := v.Trimmed()
	if len(trimmed) != 2 || trimmed[0] != 0xff || trimmed[1] != 0x00 {
		t.Fatalf("trimmed = %x", trimmed)
	}
	if back := DecodeStorageValue(trimmed); back != v {
		t.Fatalf("round trip = %s, want %s", Hash(back), Hash(v))
	}
	var zero StorageValue
	if zero.Trimmed() != nil {
		t.Fatal("zero value trims to non-nil")
	}
	if !zero.IsZero() {
		t.Fatal("zero value not zero")
	}
}

func TestAccountCopyIsDeep(t *testing.T) {
	acc := testAccount()
	cp := acc.Copy()
	cp.Balance.SetUint64(1)
	if acc.Balance.Uint64() != 12345 {
		t.Fatal("copy shares the balance")
	}
}

func TestHashHelpers(t *testing.T) {
	h := HexToHash("0x01")
	if h[31] != 1 || !bytes.Equal(h.Bytes()[:31], make([]byte, 31)) {
		t.Fatalf("HexToHash left-pad broken: %s", h)
	}
	if h.Cmp(HexToHash("0x02")) >= 0 {
		t.Fatal("Cmp ordering broken")
	}
	if h.Hex() != "0x0000000000000000000000000000000000000000000000000000000000000001" {
		t.Fatalf("Hex = %s", h.Hex())
	}
	a := HexToAddress("0xff")
	if a[19] != 0xff || a.Hash()[31] != 0xff {
		t.Fatalf("address helpers broken: %s", a)
	}
}
