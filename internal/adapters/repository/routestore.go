package repository

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/normscope/internal/domain/dedupe"
	"github.com/okian/normscope/internal/domain/merge"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	"github.com/okian/normscope/pkg/metrics"
)

// RouteSnapshot is an immutable view of all canonical routes. Readers load
// it through an atomic pointer and never lock.
type RouteSnapshot struct {
	routes      []model.CanonicalRoute
	bySection   map[string][]int
	fingerprint uint64
	version     uint64
	createdAt   time.Time
}

// Len returns the number of canonical routes.
func (s *RouteSnapshot) Len() int { return len(s.routes) }

// Fingerprint is an order-independent hash of the canonical content.
func (s *RouteSnapshot) Fingerprint() uint64 { return s.fingerprint }

// Version increases with every published snapshot.
func (s *RouteSnapshot) Version() uint64 { return s.version }

// CreatedAt returns when the snapshot was published.
func (s *RouteSnapshot) CreatedAt() time.Time { return s.createdAt }

// Candidates returns the routes containing section, in first-appearance
// order. The returned routes are shared and must not be modified.
func (s *RouteSnapshot) Candidates(section string, singleOnly bool) []model.CanonicalRoute {
	idx := s.bySection[strings.TrimSpace(section)]
	out := make([]model.CanonicalRoute, 0, len(idx))
	for _, i := range idx {
		r := s.routes[i]
		if singleOnly && !r.SingleSection() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Routes returns up to limit routes, optionally filtered by section.
// limit <= 0 returns all matches.
func (s *RouteSnapshot) Routes(section string, singleOnly bool, limit int) []model.CanonicalRoute {
	var out []model.CanonicalRoute
	if section != "" {
		out = s.Candidates(section, singleOnly)
	} else {
		out = make([]model.CanonicalRoute, 0, len(s.routes))
		for _, r := range s.routes {
			if singleOnly && !r.SingleSection() {
				continue
			}
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// IngestSummary reports how one batch of rows was reconciled.
type IngestSummary struct {
	RowsReceived    int
	RowsKept        int
	RowsDiscarded   int
	IncompleteKeys  int
	CanonicalRoutes int
	MergeWarnings   int
}

// RouteStore accumulates observation rows across batches. Each batch
// re-resolves only the natural-key groups it touches, then republishes the
// snapshot.
type RouteStore struct {
	mu     sync.Mutex
	seq    int
	groups map[string][]dedupe.Entry
	routes map[string]model.CanonicalRoute
	order  []string

	snapshot atomic.Pointer[RouteSnapshot]
	log      logger.Logger
}

// NewRouteStore creates an empty store with an empty published snapshot.
func NewRouteStore(opts ...RouteOption) *RouteStore {
	s := &RouteStore{
		groups: make(map[string][]dedupe.Entry),
		routes: make(map[string]model.CanonicalRoute),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("routes")
	}
	s.snapshot.Store(&RouteSnapshot{bySection: map[string][]int{}, createdAt: time.Now()})
	return s
}

// Snapshot returns the current published snapshot.
func (s *RouteStore) Snapshot() *RouteSnapshot {
	return s.snapshot.Load()
}

// Ingest adds rows, resolves duplicates within the touched groups, merges
// repeated sections and publishes a new snapshot.
func (s *RouteStore) Ingest(ctx context.Context, rows []model.ObservationRow) IngestSummary {
	sum := IngestSummary{RowsReceived: len(rows)}
	if len(rows) == 0 {
		sum.CanonicalRoutes = s.Snapshot().Len()
		return sum
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.seq
	var touched []string
	seen := make(map[string]bool)
	for _, r := range rows {
		e := dedupe.Entry{Index: s.seq, Row: r.Clone()}
		s.seq++
		key := dedupe.GroupKey(e)
		if _, ok := s.groups[key]; !ok {
			s.order = append(s.order, key)
		}
		s.groups[key] = append(s.groups[key], e)
		if !seen[key] {
			seen[key] = true
			touched = append(touched, key)
		}
		if e.Row.Key.Completeness() == model.KeyIncomplete {
			sum.IncompleteKeys++
		}
	}

	for _, key := range touched {
		res := dedupe.ResolveEntries(s.groups[key])
		route := merge.Route(res.Routes[0])
		s.routes[key] = route
		sum.MergeWarnings += len(route.Warnings)
		for _, d := range res.Decisions {
			if d.Index < first {
				continue
			}
			if d.Outcome == dedupe.Kept {
				sum.RowsKept++
			} else {
				sum.RowsDiscarded++
			}
		}
		for _, w := range route.Warnings {
			s.log.Warn(ctx, "conflicting norm ids merged",
				logger.String("route", route.Key.String()),
				logger.String("section", w.Section),
				logger.String("kept", w.KeptNormID),
				logger.String("other", w.OtherNormID),
			)
		}
	}

	s.publishLocked()
	sum.CanonicalRoutes = len(s.order)

	metrics.RecordRowsResolved(sum.RowsKept, sum.RowsDiscarded, sum.IncompleteKeys)
	metrics.RecordMergeWarnings(sum.MergeWarnings)
	metrics.UpdateCanonicalRoutes(sum.CanonicalRoutes)
	return sum
}

// publishLocked rebuilds and publishes the snapshot. s.mu must be held.
func (s *RouteStore) publishLocked() {
	start := time.Now()
	prev := s.snapshot.Load()
	snap := &RouteSnapshot{
		routes:    make([]model.CanonicalRoute, 0, len(s.order)),
		bySection: make(map[string][]int),
		version:   prev.version + 1,
	}
	for _, key := range s.order {
		r := s.routes[key]
		i := len(snap.routes)
		snap.routes = append(snap.routes, r)
		for _, sec := range r.Sections {
			snap.bySection[sec.Name] = append(snap.bySection[sec.Name], i)
		}
		snap.fingerprint ^= routeHash(key, r)
	}
	snap.createdAt = time.Now()
	s.snapshot.Store(snap)
	metrics.RecordRouteSnapshotRebuild(float64(time.Since(start).Microseconds()) / 1000)
}

// Count returns the number of canonical routes.
func (s *RouteStore) Count() int {
	return s.Snapshot().Len()
}

// Candidates returns the routes containing section together with the
// fingerprint of the snapshot they were read from.
func (s *RouteStore) Candidates(section string, singleOnly bool) ([]model.CanonicalRoute, uint64) {
	snap := s.Snapshot()
	return snap.Candidates(section, singleOnly), snap.Fingerprint()
}

// Fingerprint returns the fingerprint of the current snapshot.
func (s *RouteStore) Fingerprint() uint64 {
	return s.Snapshot().Fingerprint()
}

func routeHash(key string, r model.CanonicalRoute) uint64 {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, key)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.DuplicateCount)) //nolint:gosec // non-negative count
	for _, sec := range r.Sections {
		buf = appendString(buf, sec.Name)
		buf = appendString(buf, sec.NormID)
		for _, v := range []float64{sec.Distance, sec.GrossTonKm, sec.Load, sec.ActualConsumption, sec.NormConsumption} {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return xxhash.Sum64(buf)
}
