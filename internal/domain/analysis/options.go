package analysis

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/okian/normscope/internal/domain/classifier"
	"github.com/okian/normscope/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithClassifier sets the deviation classifier.
func WithClassifier(c *classifier.Classifier) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.classifier = c
		}
	}
}

// WithMaxAge sets how long a cached result stays valid. Zero or negative
// keeps results until the data generation changes.
func WithMaxAge(d time.Duration) Option {
	return func(co *Coordinator) {
		co.maxAge = d
	}
}

// WithResultStore adds a persistent tier behind the in-memory cache.
func WithResultStore(s ResultStore) Option {
	return func(co *Coordinator) {
		co.store = s
	}
}

// WithBatchLimit sets how many requests AnalyzeBatch runs in parallel.
func WithBatchLimit(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.batchLimit = n
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l logger.Logger) Option {
	return func(co *Coordinator) {
		co.log = l
	}
}

// WithTracer sets the tracer used for analysis spans.
func WithTracer(t trace.Tracer) Option {
	return func(co *Coordinator) {
		if t != nil {
			co.tracer = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(co *Coordinator) {
		if now != nil {
			co.now = now
		}
	}
}
