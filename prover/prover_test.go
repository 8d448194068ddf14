package prover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teeprover/teeprover/types"
)

func TestMergePoeChainsRoots(t *testing.T) {
	batchHash := types.HexToHash("0xabcd")
	poes := []*Poe{
		{PrevStateRoot: types.HexToHash("0x01"), NewStateRoot: types.HexToHash("0x02"), WithdrawalRoot: types.HexToHash("0x0a")},
		{PrevStateRoot: types.HexToHash("0x02"), NewStateRoot: types.HexToHash("0x03"), WithdrawalRoot: types.HexToHash("0x0b")},
	}
	merged, err := MergePoe(batchHash, poes)
	if err != nil {
		t.Fatalf("MergePoe: %v", err)
	}
	if merged.PrevStateRoot != types.HexToHash("0x01") || merged.NewStateRoot != types.HexToHash("0x03") {
		t.Fatalf("merged roots = %s -> %s", merged.PrevStateRoot, merged.NewStateRoot)
	}
	if merged.WithdrawalRoot != types.HexToHash("0x0b") {
		t.Fatalf("merged withdrawal root = %s", merged.WithdrawalRoot)
	}
	if merged.BatchHash != batchHash {
		t.Fatalf("batch hash = %s", merged.BatchHash)
	}
}

func TestMergePoeRejectsBrokenChain(t *testing.T) {
	poes := []*Poe{
		{PrevStateRoot: types.HexToHash("0x01"), NewStateRoot: types.HexToHash("0x02")},
		{PrevStateRoot: types.HexToHash("0x09"), NewStateRoot: types.HexToHash("0x03")},
	}
	if _, err := MergePoe(types.Hash{}, poes); err == nil {
		t.Fatal("broken proof chain accepted")
	}
	if _, err := MergePoe(types.Hash{}, nil); err == nil {
		t.Fatal("empty proof list accepted")
	}
}

func TestSignAndRecoverPoe(t *testing.T) {
	key, err := NewProverKey()
	if err != nil {
		t.Fatalf("NewProverKey: %v", err)
	}
	poe := &Poe{
		BatchHash:     types.HexToHash("0x01"),
		PrevStateRoot: types.HexToHash("0x02"),
		NewStateRoot:  types.HexToHash("0x03"),
	}
	if err := key.Sign(poe); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signer, err := RecoverPoeSigner(poe)
	if err != nil {
		t.Fatalf("RecoverPoeSigner: %v", err)
	}
	if signer != key.Address() {
		t.Fatalf("recovered %s, want %s", signer, key.Address())
	}

	// Tampering with any field breaks recovery to the signer.
	poe.NewStateRoot = types.HexToHash("0x04")
	signer, err = RecoverPoeSigner(poe)
	if err == nil && signer == key.Address() {
		t.Fatal("tampered proof still recovers to the signer")
	}
}

func TestWitnessCacheTTL(t *testing.T) {
	cache := NewWitnessCache(WitnessCacheTTL)
	now := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return now }

	hash := types.HexToHash("0x42")
	cache.Put(hash, []*Pob{{}})
	if _, ok := cache.Get(hash); !ok {
		t.Fatal("fresh entry missing")
	}
	now = now.Add(WitnessCacheTTL + time.Second)
	if _, ok := cache.Get(hash); ok {
		t.Fatal("expired entry still resolvable")
	}
}

func TestWitnessCacheTryLock(t *testing.T) {
	cache := NewWitnessCache(WitnessCacheTTL)
	hash := types.HexToHash("0x99")
	if !cache.TryLock(hash) {
		t.Fatal("first lock refused")
	}
	if cache.TryLock(hash) {
		t.Fatal("second lock granted while held")
	}
	cache.Unlock(hash)
	if !cache.TryLock(hash) {
		t.Fatal("lock not reusable after unlock")
	}
}

func TestPobHashDeterminism(t *testing.T) {
	mk := func(nodeOrder [][]byte) *Pob {
		return NewPob(PobBlock{Number: 5}, PobData{
			ChainID:       59144,
			PrevStateRoot: types.HexToHash("0x01"),
			MptNodes:      nodeOrder,
		})
	}
	a := mk([][]byte{{0x02}, {0x01}})
	b := mk([][]byte{{0x01}, {0x02}})
	if a.Hash != b.Hash {
		t.Fatalf("node order leaked into the witness hash: %s vs %s", a.Hash, b.Hash)
	}
	c := mk([][]byte{{0x01}, {0x03}})
	if a.Hash == c.Hash {
		t.Fatal("distinct witnesses share a hash")
	}
}

func TestCompressPobListRoundTrip(t *testing.T) {
	shared := []byte{0xaa, 0xbb}
	pobs := []*Pob{
		NewPob(PobBlock{Number: 1}, PobData{MptNodes: [][]byte{shared, {0x01}}, Codes: [][]byte{{0xf0}}}),
		NewPob(PobBlock{Number: 2}, PobData{MptNodes: [][]byte{shared, {0x02}}, Codes: [][]byte{{0xf0}}}),
	}
	bundle := CompressPobList(pobs)
	// The shared node and code are interned once each.
	if len(bundle.Interning) != 4 {
		t.Fatalf("interned %d strings, want 4", len(bundle.Interning))
	}
	restored := bundle.Unwrap()
	if len(restored) != 2 {
		t.Fatalf("restored %d witnesses", len(restored))
	}
	for i := range pobs {
		if restored[i].Hash != pobs[i].Hash {
			t.Fatalf("witness %d hash changed across the bundle: %s vs %s",
				i, restored[i].Hash, pobs[i].Hash)
		}
	}
}

// -- attestation refresher --

type fakeQuotes struct{ built int }

func (f *fakeQuotes) BuildQuote(ctx context.Context, reportData []byte) ([]byte, error) {
	f.built++
	return append([]byte("quote:"), reportData...), nil
}

type fakeContract struct {
	validity  uint64
	attested  map[types.Address]uint64
	submitted int
}

func (f *fakeContract) AttestValiditySeconds(ctx context.Context) (uint64, error) {
	return f.validity, nil
}

func (f *fakeContract) AttestedTime(ctx context.Context, prover types.Address) (uint64, error) {
	return f.attested[prover], nil
}

func (f *fakeContract) SubmitAttestationReport(ctx context.Context, prover types.Address, report []byte) error {
	f.submitted++
	f.attested[prover] = uint64(time.Now().Unix())
	return nil
}

func TestAttestationRefresherRotatesKey(t *testing.T) {
	key, err := NewProverKey()
	if err != nil {
		t.Fatalf("NewProverKey: %v", err)
	}
	oldAddr := key.Address()
	quotes := &fakeQuotes{}
	contract := &fakeContract{validity: 600, attested: map[types.Address]uint64{}}
	r := NewAttestationRefresher(key, quotes, contract)

	// Unattested key with no remaining validity: a quote goes out.
	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if contract.submitted != 1 || quotes.built != 1 {
		t.Fatalf("submitted=%d built=%d, want 1/1", contract.submitted, quotes.built)
	}

	// The fake contract approved immediately; the next tick installs the key.
	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if key.Address() == oldAddr {
		t.Fatal("key not rotated after approval")
	}

	// A freshly attested key stays put.
	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if contract.submitted != 1 {
		t.Fatalf("refresher resubmitted for a fresh key (%d submissions)", contract.submitted)
	}
}

func TestAttestationSubmitCooldown(t *testing.T) {
	key, err := NewProverKey()
	if err != nil {
		t.Fatalf("NewProverKey: %v", err)
	}
	quotes := &fakeQuotes{}
	contract := &fakeContract{validity: 600, attested: map[types.Address]uint64{}}
	r := NewAttestationRefresher(key, quotes, contract)

	// Approval never arrives: resubmission is throttled by the cooldown.
	contract.attested = map[types.Address]uint64{}
	submit := func() {
		if err := r.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		contract.attested = map[types.Address]uint64{} // drop the fake approval
	}
	submit()
	submit()
	if contract.submitted != 1 {
		t.Fatalf("cooldown ignored: %d submissions", contract.submitted)
	}
}

func TestRPCErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	err := WrapRPC(CodeProveError, base)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeProveError {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost its cause")
	}
	if WrapRPC(CodeProveError, nil) != nil {
		t.Fatal("nil error wrapped")
	}
}

func TestWitnessBuilderOrderIndependence(t *testing.T) {
	mk := func(nodeOrder, codeOrder [][]byte) *Pob {
		b := NewWitnessBuilder(PobBlock{Number: 8}, 59144, types.HexToHash("0x01"))
		for _, n := range nodeOrder {
			b.AddNode(n)
		}
		for _, c := range codeOrder {
			b.AddCode(c)
		}
		b.AddBlockHash(7, types.HexToHash("0x07"))
		return b.Seal()
	}
	nodes := [][]byte{{0x06, 0x01}, {0x06, 0x02}}
	codes := [][]byte{{0xf0}, {0xf1}}
	a := mk(nodes, codes)
	b := mk([][]byte{nodes[1], nodes[0]}, [][]byte{codes[1], codes[0]})
	if a.Hash != b.Hash {
		t.Fatalf("collection order leaked into the witness hash: %s vs %s", a.Hash, b.Hash)
	}
}

func TestWitnessBuilderDeduplicates(t *testing.T) {
	b := NewWitnessBuilder(PobBlock{Number: 3}, 59144, types.Hash{})
	node := []byte{0x06, 0xaa}
	b.AddNode(node)
	b.AddNode(node)
	b.AddCode([]byte{0xf0})
	b.AddCode([]byte{0xf0})
	pob := b.Seal()
	if len(pob.Data.MptNodes) != 1 || len(pob.Data.Codes) != 1 {
		t.Fatalf("duplicates survived: %d nodes, %d codes",
			len(pob.Data.MptNodes), len(pob.Data.Codes))
	}
}
