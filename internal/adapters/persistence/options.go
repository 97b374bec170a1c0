package persistence

import (
	"time"

	"github.com/okian/normscope/pkg/logger"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithResultTTL sets how long persisted analysis results live. Zero keeps
// them until overwritten.
func WithResultTTL(d time.Duration) Option {
	return func(s *Store) {
		s.resultTTL = d
	}
}

// WithInMemory keeps the database in memory only.
func WithInMemory() Option {
	return func(s *Store) {
		s.inMemory = true
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}
