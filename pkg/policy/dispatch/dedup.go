package dispatch

import (
	"sync"
	"time"
)

// dedupTable remembers keys for a fixed TTL.
type dedupTable struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	seen      map[string]time.Time
	lastSweep time.Time
}

func newDedupTable(ttl time.Duration, now func() time.Time) *dedupTable {
	return &dedupTable{
		ttl:  ttl,
		now:  now,
		seen: make(map[string]time.Time),
	}
}

// claim records key and reports whether it was not already held.
func (d *dedupTable) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= d.ttl {
		for k, at := range d.seen {
			if now.Sub(at) >= d.ttl {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[key] = now
	return true
}

// forget drops key so a failed action can be retried.
func (d *dedupTable) forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

func (d *dedupTable) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
