package queue

import (
	"container/heap"
	"errors"
	"sync"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// priorityQueue orders items breadth-first, then by priority, then by arrival.
type priorityQueue []*Item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].Depth != pq[j].Depth {
		return pq[i].Depth < pq[j].Depth
	}
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*Item))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// Frontier is a thread-safe priority queue of crawl items. A URL is queued at
// most once for the lifetime of the frontier.
type Frontier struct {
	mu     sync.Mutex
	pq     priorityQueue
	queued map[string]struct{}
	seq    uint64
	closed bool
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		pq:     make(priorityQueue, 0),
		queued: make(map[string]struct{}),
	}
}

// Push adds an item. It returns false when the URL was already queued.
func (f *Frontier) Push(item *Item) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, ErrQueueClosed
	}
	if _, ok := f.queued[item.URL]; ok {
		return false, nil
	}

	f.queued[item.URL] = struct{}{}
	f.seq++
	item.seq = f.seq
	heap.Push(&f.pq, item)
	return true, nil
}

// Pop removes and returns the next item.
func (f *Frontier) Pop() (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrQueueClosed
	}
	if len(f.pq) == 0 {
		return nil, ErrQueueEmpty
	}
	return heap.Pop(&f.pq).(*Item), nil
}

// PopLevel removes up to max items that share the shallowest depth.
// max <= 0 means no limit.
func (f *Frontier) PopLevel(max int) []*Item {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || len(f.pq) == 0 {
		return nil
	}

	depth := f.pq[0].Depth
	var out []*Item
	for len(f.pq) > 0 && f.pq[0].Depth == depth {
		if max > 0 && len(out) >= max {
			break
		}
		out = append(out, heap.Pop(&f.pq).(*Item))
	}
	return out
}

// Len returns the number of pending items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pq)
}

// IsEmpty returns true if nothing is pending.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Close drops pending items and rejects further pushes.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.pq = nil
	f.mu.Unlock()
}
