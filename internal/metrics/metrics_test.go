package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_RecordUnit(t *testing.T) {
	c := New()

	c.RecordUnit("page", 100, 100*time.Millisecond)
	c.RecordUnit("page", 50, 200*time.Millisecond)
	c.RecordUnit("script", 10, 300*time.Millisecond)

	snap := c.Snapshot()
	if snap.UnitsFetched != 3 {
		t.Errorf("UnitsFetched = %d, want 3", snap.UnitsFetched)
	}
	if snap.BytesTotal != 160 {
		t.Errorf("BytesTotal = %d, want 160", snap.BytesTotal)
	}
	if snap.UnitsByKind["page"] != 2 || snap.UnitsByKind["script"] != 1 {
		t.Errorf("UnitsByKind = %v", snap.UnitsByKind)
	}
	if snap.AverageFetchTime != 200*time.Millisecond {
		t.Errorf("AverageFetchTime = %v, want 200ms", snap.AverageFetchTime)
	}
}

func TestCollector_RecordFailure(t *testing.T) {
	c := New()

	c.RecordFailure("source_unavailable")
	c.RecordFailure("source_unavailable")
	c.RecordFailure("unsupported_source")
	c.RecordUnit("page", 1, 0)

	snap := c.Snapshot()
	if snap.UnitsFailed != 3 {
		t.Errorf("UnitsFailed = %d, want 3", snap.UnitsFailed)
	}
	if snap.ErrorCounts["source_unavailable"] != 2 {
		t.Errorf("ErrorCounts = %v", snap.ErrorCounts)
	}
	if got := snap.FailureRate(); got != 0.75 {
		t.Errorf("FailureRate = %v, want 0.75", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.RecordMentions(4)
	c.RecordMerge()
	c.RecordMerge()
	c.RecordRetry()
	c.RecordSkipped()
	c.SetFrontierDepth(9)
	c.AddActiveWorkers(2)
	c.AddActiveWorkers(-1)

	snap := c.Snapshot()
	if snap.Mentions != 4 || snap.Merges != 2 || snap.Retries != 1 || snap.UnitsSkipped != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.FrontierDepth != 9 || snap.ActiveWorkers != 1 {
		t.Errorf("gauges = %d/%d", snap.FrontierDepth, snap.ActiveWorkers)
	}
}

func TestSnapshot_FailureRateEmpty(t *testing.T) {
	if New().Snapshot().FailureRate() != 0 {
		t.Error("empty collector should have zero failure rate")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordFailure("timeout")
			c.RecordUnit("file", 1, time.Millisecond)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.ErrorCounts["timeout"] != 50 || snap.UnitsFetched != 50 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshot_Summary(t *testing.T) {
	c := New()
	c.RecordMentions(2)
	sum := c.Snapshot().Summary()

	if sum["mentions"] != int64(2) {
		t.Errorf("mentions = %v", sum["mentions"])
	}
	if _, ok := sum["elapsed"]; !ok {
		t.Error("summary should include elapsed")
	}
}
