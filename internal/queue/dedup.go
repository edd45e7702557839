package queue

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Dedup prevents the same queue item from being submitted more than once
// within a TTL window, a local guard on top of the remote side's id-based
// deduplication. Safe for concurrent use.
type Dedup struct {
	seen  map[string]time.Time
	ttl   time.Duration
	clock domain.Clock
	mu    sync.Mutex
}

// NewDedup creates a Dedup that treats an id as a duplicate when it was seen
// within ttl.
func NewDedup(ttl time.Duration, clock domain.Clock) *Dedup {
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: clock,
	}
}

// IsDuplicate reports whether id was seen within the TTL window. An unseen
// (or expired) id is recorded and false is returned.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Cleanup drops expired entries to bound memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
