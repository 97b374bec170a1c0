package dedupe

// TrackerOption configures the in-memory batch tracker.
type TrackerOption func(*inMemoryTracker)

// WithMaxSize sets the maximum number of batch ids to remember.
// If maxSize > 0 the oldest id is evicted when full.
// If maxSize <= 0 the tracker is unbounded.
func WithMaxSize(maxSize int) TrackerOption {
	return func(t *inMemoryTracker) {
		t.maxSize = maxSize
	}
}
