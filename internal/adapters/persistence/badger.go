// Package persistence keeps norm curves and analysis results in BadgerDB so
// a restarted service can warm its caches. The core stays correct without it.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/normscope/internal/domain/analysis"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	"github.com/okian/normscope/pkg/metrics"
)

const (
	curvePrefix  = "curve:"
	resultPrefix = "result:"

	// DefaultResultTTL bounds how long a persisted result may be reused.
	DefaultResultTTL = 15 * time.Minute
)

var _ analysis.ResultStore = (*Store)(nil)

// Store is a BadgerDB-backed curve and result store.
type Store struct {
	db        *badger.DB
	dir       string
	inMemory  bool
	resultTTL time.Duration
	log       logger.Logger
}

// Open opens or creates the database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, resultTTL: DefaultResultTTL}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("persistence")
	}
	if dir == "" && !s.inMemory {
		return nil, ErrNoDirectory
	}

	bopts := badger.DefaultOptions(s.dir).WithLogger(badgerLogger{log: s.log})
	if s.inMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	s.db = db
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCurves writes curves, replacing stored ones with the same id.
func (s *Store) SaveCurves(ctx context.Context, curves []model.NormCurve) error {
	if len(curves) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range curves {
		val, err := json.Marshal(c)
		if err != nil {
			metrics.RecordPersistenceOp("save_curves", "error")
			return fmt.Errorf("encode curve %q: %w", c.ID, err)
		}
		if err := wb.Set([]byte(curvePrefix+c.ID), val); err != nil {
			metrics.RecordPersistenceOp("save_curves", "error")
			return fmt.Errorf("stage curve %q: %w", c.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		metrics.RecordPersistenceOp("save_curves", "error")
		return fmt.Errorf("flush curves: %w", err)
	}
	metrics.RecordPersistenceOp("save_curves", "ok")
	s.log.Debug(ctx, "curves persisted", logger.Int("count", len(curves)))
	return nil
}

// LoadCurves returns every stored curve in key order. Undecodable entries
// are skipped and logged.
func (s *Store) LoadCurves(ctx context.Context) ([]model.NormCurve, error) {
	var out []model.NormCurve
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(curvePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var c model.NormCurve
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				s.log.Warn(ctx, "skipping undecodable curve", logger.String("key", string(item.Key())), logger.Error(err))
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		metrics.RecordPersistenceOp("load_curves", "error")
		return nil, fmt.Errorf("load curves: %w", err)
	}
	metrics.RecordPersistenceOp("load_curves", "ok")
	return out, nil
}

// SaveResult stores an analysis result under its cache key. The entry
// expires after the result TTL.
func (s *Store) SaveResult(_ context.Context, r model.AnalysisResult) error {
	val, err := json.Marshal(r)
	if err != nil {
		metrics.RecordPersistenceOp("save_result", "error")
		return fmt.Errorf("encode result %q: %w", r.CacheKey, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(resultPrefix+r.CacheKey), val)
		if s.resultTTL > 0 {
			e = e.WithTTL(s.resultTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		metrics.RecordPersistenceOp("save_result", "error")
		return fmt.Errorf("save result %q: %w", r.CacheKey, err)
	}
	metrics.RecordPersistenceOp("save_result", "ok")
	return nil
}

// LoadResult returns the stored result for key. A missing or expired key
// is reported as not found without an error.
func (s *Store) LoadResult(_ context.Context, key string) (model.AnalysisResult, bool, error) {
	var r model.AnalysisResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		metrics.RecordPersistenceOp("load_result", "miss")
		return model.AnalysisResult{}, false, nil
	case err != nil:
		metrics.RecordPersistenceOp("load_result", "error")
		return model.AnalysisResult{}, false, fmt.Errorf("load result %q: %w", key, err)
	}
	metrics.RecordPersistenceOp("load_result", "hit")
	return r, true, nil
}

// badgerLogger routes badger's own logging through the service logger.
type badgerLogger struct {
	log logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}
