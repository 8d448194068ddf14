package txmgr

import "testing"

func TestAcquireCommitAdvances(t *testing.T) {
	m := NewNonceManager(10)
	a := m.Acquire()
	if a.Nonce() != 10 {
		t.Fatalf("first nonce = %d, want 10", a.Nonce())
	}
	a.Commit()
	b := m.Acquire()
	if b.Nonce() != 11 {
		t.Fatalf("second nonce = %d, want 11", b.Nonce())
	}
	b.Commit()
}

func TestReleaseReusesNonce(t *testing.T) {
	m := NewNonceManager(0)
	a := m.Acquire()
	b := m.Acquire()
	if a.Nonce() != 0 || b.Nonce() != 1 {
		t.Fatalf("nonces = %d, %d", a.Nonce(), b.Nonce())
	}
	// The first send failed: its nonce returns to the pool and is handed out
	// before any new one.
	a.Release()
	b.Commit()
	c := m.Acquire()
	if c.Nonce() != 0 {
		t.Fatalf("reused nonce = %d, want 0", c.Nonce())
	}
	c.Commit()
	d := m.Acquire()
	if d.Nonce() != 2 {
		t.Fatalf("next nonce = %d, want 2", d.Nonce())
	}
}

func TestReleaseAfterCommitIsNoOp(t *testing.T) {
	m := NewNonceManager(0)
	a := m.Acquire()
	a.Commit()
	a.Release()
	if b := m.Acquire(); b.Nonce() != 1 {
		t.Fatalf("nonce = %d, want 1", b.Nonce())
	}
}

func TestResetReanchors(t *testing.T) {
	m := NewNonceManager(0)
	m.Acquire().Release()
	m.Reset(5)
	if a := m.Acquire(); a.Nonce() != 5 {
		t.Fatalf("nonce after reset = %d, want 5", a.Nonce())
	}
}
