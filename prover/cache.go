package prover

import (
	"sync"
	"time"

	"github.com/teeprover/teeprover/types"
)

// WitnessCacheTTL bounds how long resolved witnesses stay addressable.
const WitnessCacheTTL = 120 * time.Second

// WitnessCache holds witness lists keyed by bundle hash with expiry, plus
// the advisory locks used to avoid duplicate witness generation across
// provers.
type WitnessCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[types.Hash]witnessEntry
	locks   map[types.Hash]time.Time
	now     func() time.Time
}

type witnessEntry struct {
	pobs      []*Pob
	expiresAt time.Time
}

// NewWitnessCache creates a cache with the given TTL.
func NewWitnessCache(ttl time.Duration) *WitnessCache {
	return &WitnessCache{
		ttl:     ttl,
		entries: make(map[types.Hash]witnessEntry),
		locks:   make(map[types.Hash]time.Time),
		now:     time.Now,
	}
}

// Put stores a witness list under its bundle hash.
func (c *WitnessCache) Put(hash types.Hash, pobs []*Pob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = witnessEntry{pobs: pobs, expiresAt: c.now().Add(c.ttl)}
}

// Get resolves a witness list, dropping it if expired.
func (c *WitnessCache) Get(hash types.Hash) ([]*Pob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, hash)
		return nil, false
	}
	return entry.pobs, true
}

// TryLock takes the advisory lock over a witness hash. It returns false if
// another holder still owns an unexpired lock.
func (c *WitnessCache) TryLock(hash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.locks[hash]; ok && c.now().Before(until) {
		return false
	}
	c.locks[hash] = c.now().Add(c.ttl)
	return true
}

// Unlock releases the advisory lock.
func (c *WitnessCache) Unlock(hash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, hash)
}

// Sweep drops every expired entry and lock.
func (c *WitnessCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for h, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, h)
		}
	}
	for h, until := range c.locks {
		if now.After(until) {
			delete(c.locks, h)
		}
	}
}
