// Package txmgr manages the transaction-sending account's nonces: acquired
// nonces that are dropped without commit return to a free set so the next
// send reuses them instead of leaving a gap.
package txmgr

import (
	"sort"
	"sync"
)

// NonceManager hands out nonces for one sending account.
type NonceManager struct {
	mu sync.Mutex
	// next is the lowest nonce never handed out.
	next uint64
	// free holds released nonces below next, reusable in ascending order.
	free map[uint64]struct{}
}

// NewNonceManager starts numbering at the account's current chain nonce.
func NewNonceManager(current uint64) *NonceManager {
	return &NonceManager{next: current, free: make(map[uint64]struct{})}
}

// Reset re-anchors at the chain nonce, dropping any state below it.
func (m *NonceManager) Reset(current uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current < m.next {
		for n := range m.free {
			if n < current {
				delete(m.free, n)
			}
		}
		return
	}
	m.next = current
	m.free = make(map[uint64]struct{})
}

// Acquire hands out the lowest available nonce. Release the guard without
// committing to return the nonce for reuse.
func (m *NonceManager) Acquire() *NonceGuard {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.free) > 0 {
		lowest := m.lowestFree()
		delete(m.free, lowest)
		return &NonceGuard{mgr: m, nonce: lowest}
	}
	nonce := m.next
	m.next++
	return &NonceGuard{mgr: m, nonce: nonce}
}

func (m *NonceManager) lowestFree() uint64 {
	nonces := make([]uint64, 0, len(m.free))
	for n := range m.free {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	return nonces[0]
}

// NonceGuard owns one handed-out nonce.
type NonceGuard struct {
	mgr   *NonceManager
	nonce uint64
	done  bool
}

// Nonce returns the held nonce.
func (g *NonceGuard) Nonce() uint64 { return g.nonce }

// Commit finalizes the nonce: it was sent to the chain and must not be
// reused.
func (g *NonceGuard) Commit() {
	g.done = true
}

// Release returns an uncommitted nonce to the free set.
func (g *NonceGuard) Release() {
	if g.done {
		return
	}
	g.done = true
	g.mgr.mu.Lock()
	g.mgr.free[g.nonce] = struct{}{}
	g.mgr.mu.Unlock()
}
