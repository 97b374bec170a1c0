package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// DefaultTrackerSize bounds the number of remembered batch ids.
const DefaultTrackerSize = 50000

// BatchTracker records seen ingestion batch ids so a retried batch is
// applied at most once.
type BatchTracker interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so the batch can be retried, for example after
	// queue backpressure rejected it.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryTracker keeps ids in insertion order and evicts the oldest
// once maxSize is reached. maxSize <= 0 means unbounded.
type inMemoryTracker struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewBatchTracker creates an in-memory tracker.
func NewBatchTracker(opts ...TrackerOption) BatchTracker {
	t := &inMemoryTracker{maxSize: DefaultTrackerSize}
	for _, opt := range opts {
		opt(t)
	}
	t.seen = make(map[string]*list.Element)
	t.order = list.New()
	return t
}

func (t *inMemoryTracker) SeenAndRecord(_ context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[id]; ok {
		return true
	}
	if t.maxSize > 0 && len(t.seen) >= t.maxSize {
		t.evictOldest()
	}
	t.seen[id] = t.order.PushBack(id)
	t.size.Add(1)
	return false
}

func (t *inMemoryTracker) Unrecord(_ context.Context, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.seen[id]; ok {
		t.order.Remove(el)
		delete(t.seen, id)
		t.size.Add(-1)
	}
}

// evictOldest must be called with t.mu held.
func (t *inMemoryTracker) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	t.order.Remove(front)
	delete(t.seen, front.Value.(string))
	t.size.Add(-1)
}

func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}
