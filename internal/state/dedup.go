package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplicator is the visited set shared by crawl workers. A bloom filter
// answers the common "never seen" case; an exact map rules out false positives.
type Deduplicator struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewDeduplicator creates a new deduplicator sized for estimatedItems keys.
func NewDeduplicator(estimatedItems int) *Deduplicator {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}

	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// CheckAndMark records key and reports whether it was new. The check and the
// insert happen under one lock, so exactly one caller wins for each key.
func (d *Deduplicator) CheckAndMark(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(key) {
		if _, ok := d.exact[key]; ok {
			return false
		}
	}
	d.filter.AddString(key)
	d.exact[key] = struct{}{}
	return true
}

// HasSeen reports whether key has been marked.
func (d *Deduplicator) HasSeen(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.filter.TestString(key) {
		return false
	}
	_, ok := d.exact[key]
	return ok
}

// Count returns the number of unique keys.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.exact)
}
