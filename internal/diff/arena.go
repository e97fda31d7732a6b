// Package diff turns before/after attribute values into structured change
// records: the snapshot arena, the relation change buffer, the diff engine,
// and descriptor validation.
package diff

import (
	"hash/fnv"
	"sync"
	"time"

	"audittrail/internal/domain"
)

const arenaStripes = 64

// Arena is the short-lived store of "before" attribute values, keyed by object
// identity. Entries are written before a mutation commits and consumed exactly
// once when the diff is computed. Entries that are never consumed (validation
// failure before commit, crashed caller) expire after a TTL and are reclaimed
// by Sweep.
type Arena struct {
	mu      sync.Mutex
	entries map[string]arenaEntry
	ttl     time.Duration

	// stripes serialize concurrent mutations of the same object identity so a
	// late snapshot cannot corrupt a concurrent diff.
	stripes [arenaStripes]sync.Mutex
}

type arenaEntry struct {
	snapshot map[string]any
	storedAt time.Time
}

// NewArena creates an arena whose unconsumed entries expire after ttl.
func NewArena(ttl time.Duration) *Arena {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Arena{
		entries: make(map[string]arenaEntry),
		ttl:     ttl,
	}
}

// Acquire locks the stripe for the given identity and returns the release
// function. The mutation source holds the lock from snapshot capture through
// diff consumption so same-object mutations serialize.
func (a *Arena) Acquire(id domain.Identity) (release func()) {
	stripe := &a.stripes[stripeIndex(id)]
	stripe.Lock()
	return stripe.Unlock
}

// Capture stores the pre-mutation field values for the identity, replacing any
// stale entry.
func (a *Arena) Capture(id domain.Identity, snapshot map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[id.String()] = arenaEntry{snapshot: snapshot, storedAt: time.Now()}
}

// Consume removes and returns the snapshot for the identity. The second return
// is false when no snapshot was captured.
func (a *Arena) Consume(id domain.Identity) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[id.String()]
	if !ok {
		return nil, false
	}
	delete(a.entries, id.String())
	return entry.snapshot, true
}

// Sweep drops entries older than the TTL and returns how many were reclaimed.
func (a *Arena) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	reclaimed := 0
	for key, entry := range a.entries {
		if now.Sub(entry.storedAt) > a.ttl {
			delete(a.entries, key)
			reclaimed++
		}
	}
	return reclaimed
}

// Len returns the number of pending snapshots.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func stripeIndex(id domain.Identity) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.String()))
	return int(h.Sum32() % arenaStripes)
}
