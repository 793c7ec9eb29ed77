// Package metrics collects per-session pipeline counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics for one analysis session.
// All methods are safe for concurrent use.
type Collector struct {
	unitsFetched  atomic.Int64
	unitsFailed   atomic.Int64
	unitsSkipped  atomic.Int64
	retries       atomic.Int64
	mentions      atomic.Int64
	merges        atomic.Int64
	bytesTotal    atomic.Int64
	activeWorkers atomic.Int64
	frontierDepth atomic.Int64

	fetchTimeSum atomic.Int64 // ms
	fetchTimeNum atomic.Int64

	errorMu     sync.RWMutex
	errorCounts map[string]*atomic.Int64

	sourceMu     sync.RWMutex
	sourceCounts map[string]*atomic.Int64

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		errorCounts:  make(map[string]*atomic.Int64),
		sourceCounts: make(map[string]*atomic.Int64),
		startTime:    time.Now(),
	}
}

// RecordUnit records a successfully extracted unit of the given kind.
func (c *Collector) RecordUnit(kind string, size int, d time.Duration) {
	c.unitsFetched.Add(1)
	c.bytesTotal.Add(int64(size))
	c.fetchTimeSum.Add(d.Milliseconds())
	c.fetchTimeNum.Add(1)
	bump(&c.sourceMu, c.sourceCounts, kind)
}

// RecordFailure records a failed unit under its error kind.
func (c *Collector) RecordFailure(kind string) {
	c.unitsFailed.Add(1)
	bump(&c.errorMu, c.errorCounts, kind)
}

// RecordSkipped records a unit skipped without error (no patterns, out of scope).
func (c *Collector) RecordSkipped() {
	c.unitsSkipped.Add(1)
}

// RecordRetry records a retry attempt.
func (c *Collector) RecordRetry() {
	c.retries.Add(1)
}

// RecordMentions records n parsed mentions.
func (c *Collector) RecordMentions(n int) {
	c.mentions.Add(int64(n))
}

// RecordMerge records one mention merged into the catalogue.
func (c *Collector) RecordMerge() {
	c.merges.Add(1)
}

// AddActiveWorkers adjusts the number of busy workers.
func (c *Collector) AddActiveWorkers(delta int64) {
	c.activeWorkers.Add(delta)
}

// SetFrontierDepth sets the crawl frontier size.
func (c *Collector) SetFrontierDepth(n int64) {
	c.frontierDepth.Store(n)
}

func bump(mu *sync.RWMutex, m map[string]*atomic.Int64, key string) {
	mu.RLock()
	ctr := m[key]
	mu.RUnlock()
	if ctr == nil {
		mu.Lock()
		if ctr = m[key]; ctr == nil {
			ctr = &atomic.Int64{}
			m[key] = ctr
		}
		mu.Unlock()
	}
	ctr.Add(1)
}

func (c *Collector) averageFetchTime() time.Duration {
	num := c.fetchTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(c.fetchTimeSum.Load()/num) * time.Millisecond
}

// Snapshot returns a point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Elapsed:          time.Since(c.startTime),
		UnitsFetched:     c.unitsFetched.Load(),
		UnitsFailed:      c.unitsFailed.Load(),
		UnitsSkipped:     c.unitsSkipped.Load(),
		Retries:          c.retries.Load(),
		Mentions:         c.mentions.Load(),
		Merges:           c.merges.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		ActiveWorkers:    c.activeWorkers.Load(),
		FrontierDepth:    c.frontierDepth.Load(),
		AverageFetchTime: c.averageFetchTime(),
		ErrorCounts:      make(map[string]int64),
		UnitsByKind:      make(map[string]int64),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.sourceMu.RLock()
	for k, v := range c.sourceCounts {
		s.UnitsByKind[k] = v.Load()
	}
	c.sourceMu.RUnlock()

	return s
}

// Snapshot is a point-in-time view of a Collector.
type Snapshot struct {
	Elapsed          time.Duration    `json:"elapsed"`
	UnitsFetched     int64            `json:"units_fetched"`
	UnitsFailed      int64            `json:"units_failed"`
	UnitsSkipped     int64            `json:"units_skipped"`
	Retries          int64            `json:"retries"`
	Mentions         int64            `json:"mentions"`
	Merges           int64            `json:"merges"`
	BytesTotal       int64            `json:"bytes_total"`
	ActiveWorkers    int64            `json:"active_workers"`
	FrontierDepth    int64            `json:"frontier_depth"`
	AverageFetchTime time.Duration    `json:"average_fetch_time"`
	ErrorCounts      map[string]int64 `json:"error_counts"`
	UnitsByKind      map[string]int64 `json:"units_by_kind"`
}

// FailureRate returns failed / (fetched + failed).
func (s Snapshot) FailureRate() float64 {
	total := s.UnitsFetched + s.UnitsFailed
	if total == 0 {
		return 0
	}
	return float64(s.UnitsFailed) / float64(total)
}

// Summary returns a flat map suitable for logging.
func (s Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"elapsed":         s.Elapsed.String(),
		"units_fetched":   s.UnitsFetched,
		"units_failed":    s.UnitsFailed,
		"units_skipped":   s.UnitsSkipped,
		"failure_rate":    s.FailureRate(),
		"mentions":        s.Mentions,
		"merges":          s.Merges,
		"retries":         s.Retries,
		"avg_fetch_ms":    s.AverageFetchTime.Milliseconds(),
		"bytes_extracted": s.BytesTotal,
	}
}
