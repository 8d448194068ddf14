package statedb

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"

	"github.com/teeprover/teeprover/types"
	"github.com/teeprover/teeprover/zktrie"
)

func newTestState(t *testing.T) *ZkTrieState {
	t.Helper()
	db := zktrie.NewPrefixDB(types.Address{}, zktrie.NewMemStore())
	if _, err := zktrie.NewEmptyZkTrie(db); err != nil {
		t.Fatalf("NewEmptyZkTrie: %v", err)
	}
	return NewZkTrieState(db, zktrie.EmptyTrieRoot)
}

func mustFlush(t *testing.T, s *ZkTrieState) types.Hash {
	t.Helper()
	root, reductions, err := s.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(reductions) != 0 {
		t.Fatalf("Flush reported %d reduction nodes", len(reductions))
	}
	return root
}

func TestEmptyAccountDefaults(t *testing.T) {
	acc := EmptyAccount()
	if !IsEmptyAccount(acc) {
		t.Fatal("EmptyAccount not empty")
	}
	if acc.StorageRoot != zktrie.EmptyTrieRoot {
		t.Fatalf("empty account storage root = %s", acc.StorageRoot)
	}
	if len(acc.EncodeMimcSafe()) != 224 {
		t.Fatalf("mimc-safe encoding length = %d, want 224", len(acc.EncodeMimcSafe()))
	}
}

func TestBalanceNonceRoundTrip(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := s.SetBalance(addr, uint256.NewInt(1000)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if err := s.SetNonce(addr, 7); err != nil {
		t.Fatalf("SetNonce: %v", err)
	}
	root := mustFlush(t, s)
	if root == zktrie.EmptyTrieRoot {
		t.Fatal("flush of non-empty state left the empty root")
	}

	// A fresh state over the flushed root reads the same values.
	fresh := NewZkTrieState(s.db, root)
	bal, err := fresh.GetBalance(addr)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Eq(uint256.NewInt(1000)) {
		t.Fatalf("balance = %s, want 1000", bal)
	}
	nonce, err := fresh.GetNonce(addr)
	if err != nil || nonce != 7 {
		t.Fatalf("nonce = %d (%v), want 7", nonce, err)
	}
}

func TestSetBalanceSameValueNotDirty(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x22")
	if err := s.SetBalance(addr, uint256.NewInt(0)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if s.accounts.DirtyCount() != 0 {
		t.Fatal("no-op write marked the account dirty")
	}
}

func TestStorageDirtinessPropagates(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x33")
	slot := types.HexToHash("0x01")

	if err := s.SetState(addr, slot, types.StorageValue(types.HexToHash("0xbeef"))); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if !s.accounts.IsDirty(addr) {
		t.Fatal("storage write did not dirty the owning account")
	}

	root := mustFlush(t, s)
	fresh := NewZkTrieState(s.db, root)
	got, err := fresh.GetState(addr, slot)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if types.Hash(got) != types.HexToHash("0xbeef") {
		t.Fatalf("storage value = %s", types.Hash(got))
	}

	// The account's storage root moved off the empty root.
	var storageRoot types.Hash
	if err := fresh.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		storageRoot = ctx.Val.StorageRoot
	}); err != nil {
		t.Fatalf("withAccount: %v", err)
	}
	if storageRoot == zktrie.EmptyTrieRoot {
		t.Fatal("storage root did not update on flush")
	}
}

func TestZeroStorageWriteDeletes(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x44")
	slot := types.HexToHash("0x02")

	if err := s.SetState(addr, slot, types.StorageValue(types.HexToHash("0x0a"))); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	root1 := mustFlush(t, s)

	if err := s.SetState(addr, slot, types.StorageValue{}); err != nil {
		t.Fatalf("SetState zero: %v", err)
	}
	root2 := mustFlush(t, s)
	if root1 == root2 {
		t.Fatal("zero write did not change the root")
	}

	fresh := NewZkTrieState(s.db, root2)
	got, err := fresh.GetState(addr, slot)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("deleted slot reads %s", types.Hash(got))
	}
}

func TestSetCodeAndFastPath(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x55")

	// Zero code size short-circuits without consulting the code store.
	code, err := s.GetCode(addr)
	if err != nil {
		t.Fatalf("GetCode empty: %v", err)
	}
	if len(code) != 0 {
		t.Fatalf("empty account code = %x", code)
	}

	contract := []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	if err := s.SetCode(addr, contract); err != nil {
		t.Fatalf("SetCode: %v", err)
	}
	got, err := s.GetCode(addr)
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	if !bytes.Equal(got, contract) {
		t.Fatalf("code = %x, want %x", got, contract)
	}
	var acc types.Account
	if err := s.withAccount(addr, func(ctx *CacheCtx[*types.Account]) {
		acc = *ctx.Val
	}); err != nil {
		t.Fatalf("withAccount: %v", err)
	}
	if acc.CodeSize != uint64(len(contract)) {
		t.Fatalf("code size = %d", acc.CodeSize)
	}
	if acc.MimcCodeHash == EmptyAccount().MimcCodeHash {
		t.Fatal("mimc code hash unchanged")
	}
}

func TestSuicideDropsStorage(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x66")
	if err := s.SetBalance(addr, uint256.NewInt(5)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if err := s.SetState(addr, types.HexToHash("0x01"), types.StorageValue(types.HexToHash("0x02"))); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.Suicide(addr); err != nil {
		t.Fatalf("Suicide: %v", err)
	}
	if _, ok := s.storages[addr]; ok {
		t.Fatal("storage cache survived suicide")
	}
	exist, err := s.Exist(addr)
	if err != nil || exist {
		t.Fatalf("account exists after suicide (err=%v)", err)
	}
}

func TestRevertNoOpCondition(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x77")
	cache := s.accounts

	if cache.Revert(zktrie.EmptyTrieRoot) {
		t.Fatal("revert to current root with clean cache was not a no-op")
	}
	if err := s.SetBalance(addr, uint256.NewInt(9)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if !cache.Revert(zktrie.EmptyTrieRoot) {
		t.Fatal("revert with dirty cache was a no-op")
	}
	if cache.DirtyCount() != 0 {
		t.Fatal("revert kept dirty keys")
	}
}

func TestTryWithKeyAbsent(t *testing.T) {
	s := newTestState(t)
	addr := types.HexToAddress("0x88")
	found, err := s.accounts.TryWithKey(s.db, addr, func(ctx *CacheCtx[*types.Account]) {})
	if err != nil {
		t.Fatalf("TryWithKey: %v", err)
	}
	if found {
		t.Fatal("absent account reported present")
	}
	// WithKey materializes the default instead.
	if err := s.accounts.WithKey(s.db, addr, func(ctx *CacheCtx[*types.Account]) {
		if !IsEmptyAccount(ctx.Val) {
			t.Fatal("materialized default not empty")
		}
	}); err != nil {
		t.Fatalf("WithKey: %v", err)
	}
}

func TestFlushDeterminism(t *testing.T) {
	build := func() types.Hash {
		s := newTestState(t)
		for i := byte(1); i <= 5; i++ {
			addr := types.BytesToAddress([]byte{i})
			if err := s.SetBalance(addr, uint256.NewInt(uint64(i)*10)); err != nil {
				t.Fatalf("SetBalance: %v", err)
			}
			if err := s.SetState(addr, types.HexToHash("0x0f"), types.StorageValue(types.HexToHash("0xff"))); err != nil {
				t.Fatalf("SetState: %v", err)
			}
		}
		return mustFlush(t, s)
	}
	if a, b := build(), build(); a != b {
		t.Fatalf("flush not deterministic: %s vs %s", a, b)
	}
}
