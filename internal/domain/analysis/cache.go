package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/okian/normscope/internal/domain/model"
)

// ResultStore is an optional persistent tier for analysis results. The
// coordinator stays correct without one.
type ResultStore interface {
	LoadResult(ctx context.Context, key string) (model.AnalysisResult, bool, error)
	SaveResult(ctx context.Context, result model.AnalysisResult) error
}

type cacheEntry struct {
	result   model.AnalysisResult
	storedAt time.Time
}

// resultCache maps request cache keys to the latest computed result.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxAge  time.Duration
}

func newResultCache(maxAge time.Duration) *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry), maxAge: maxAge}
}

func (c *resultCache) fresh(storedAt, now time.Time) bool {
	return c.maxAge <= 0 || now.Sub(storedAt) < c.maxAge
}

// get returns the cached result for key if it belongs to generation gen
// and has not expired.
func (c *resultCache) get(key string, gen uint64, now time.Time) (model.AnalysisResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.result.Generation != gen || !c.fresh(e.storedAt, now) {
		return model.AnalysisResult{}, false
	}
	return e.result, true
}

func (c *resultCache) put(r model.AnalysisResult, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[r.CacheKey] = cacheEntry{result: r, storedAt: now}
	return len(c.entries)
}

// sweep drops expired entries and entries of an older generation.
func (c *resultCache) sweep(gen uint64, now time.Time) (removed, left int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.result.Generation != gen || !c.fresh(e.storedAt, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, len(c.entries)
}

func (c *resultCache) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cloneResult copies the slices and maps of r so callers cannot modify a
// cached result.
func cloneResult(r model.AnalysisResult) model.AnalysisResult {
	out := r
	out.Records = append([]model.RecordResult(nil), r.Records...)
	out.SkipReasons = make(map[string]int, len(r.SkipReasons))
	for k, v := range r.SkipReasons {
		out.SkipReasons[k] = v
	}
	out.Stats.Histogram = make(map[model.Status]int, len(r.Stats.Histogram))
	for k, v := range r.Stats.Histogram {
		out.Stats.Histogram[k] = v
	}
	return out
}
