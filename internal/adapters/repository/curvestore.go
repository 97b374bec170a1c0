package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/okian/normscope/internal/domain/interpolation"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	"github.com/okian/normscope/pkg/metrics"
)

// curveSnapshot is an immutable stored curve. Replacing a curve swaps the
// snapshot pointer; a snapshot is never mutated.
type curveSnapshot struct {
	curve   model.NormCurve
	version uint64
	hash    uint64
}

// cachedFunc is a built model valid for one curve version.
type cachedFunc struct {
	version uint64
	model   *interpolation.Model
}

// UpsertReport is the per-id outcome of an upsert. Curves without an id
// are reported under "#<position>".
type UpsertReport struct {
	Outcomes map[string]model.CurveOutcome
	Rejected map[string]error
}

// Count returns how many ids ended with outcome o.
func (r UpsertReport) Count(o model.CurveOutcome) int {
	n := 0
	for _, v := range r.Outcomes {
		if v == o {
			n++
		}
	}
	return n
}

// ValidationReport is a diagnostic view of every stored curve. Fallback ids
// are interpolable and therefore also listed as healthy.
type ValidationReport struct {
	Healthy  []string          `json:"healthy"`
	Broken   map[string]string `json:"broken"`
	Fallback map[string]string `json:"fallback"`
}

// CurveStore holds norm curves and lazily built interpolation functions.
// Curve replacement is atomic per id. Function builds are single-flight
// per id and version.
type CurveStore struct {
	mu     sync.RWMutex
	curves map[string]*curveSnapshot
	seq    atomic.Uint64

	funcs  sync.Map // id -> *cachedFunc
	flight singleflight.Group

	engine *interpolation.Engine
	log    logger.Logger
	tracer trace.Tracer
}

// NewCurveStore creates an empty store.
func NewCurveStore(opts ...CurveOption) *CurveStore {
	s := &CurveStore{
		curves: make(map[string]*curveSnapshot),
		engine: interpolation.New(),
		tracer: otel.Tracer("github.com/okian/normscope/repository"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("curves")
	}
	return s
}

// Upsert validates and stores curves, replacing existing ones by id.
// Re-sending an identical curve reports "updated" without invalidating
// its cached function.
func (s *CurveStore) Upsert(ctx context.Context, curves []model.NormCurve) UpsertReport {
	report := UpsertReport{
		Outcomes: make(map[string]model.CurveOutcome, len(curves)),
		Rejected: make(map[string]error),
	}

	s.mu.Lock()
	for i, c := range curves {
		id := c.ID
		if err := c.Validate(); err != nil {
			if id == "" {
				id = "#" + strconv.Itoa(i)
			}
			if _, seen := report.Outcomes[id]; !seen {
				report.Outcomes[id] = model.CurveRejected
				report.Rejected[id] = err
			}
			continue
		}

		snap := &curveSnapshot{curve: c.Clone()}
		snap.hash = contentHash(snap.curve)

		outcome := model.CurveAdded
		if prev, ok := s.curves[id]; ok {
			outcome = model.CurveUpdated
			if prev.hash == snap.hash {
				if report.Outcomes[id] != model.CurveAdded {
					report.Outcomes[id] = outcome
				}
				delete(report.Rejected, id)
				continue
			}
		}
		snap.version = s.seq.Add(1)
		s.curves[id] = snap
		s.funcs.Delete(id)

		if report.Outcomes[id] != model.CurveAdded {
			report.Outcomes[id] = outcome
		}
		delete(report.Rejected, id)
	}
	total := len(s.curves)
	s.mu.Unlock()

	for id, o := range report.Outcomes {
		metrics.RecordCurveUpsert(string(o))
		if o == model.CurveRejected {
			s.log.Warn(ctx, "curve rejected", logger.String("curve_id", id), logger.Error(report.Rejected[id]))
		}
	}
	metrics.UpdateCurvesTotal(total)
	s.log.Debug(ctx, "curves upserted",
		logger.Int("added", report.Count(model.CurveAdded)),
		logger.Int("updated", report.Count(model.CurveUpdated)),
		logger.Int("rejected", report.Count(model.CurveRejected)),
	)
	return report
}

func (s *CurveStore) snapshot(id string) (*curveSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.curves[id]
	return snap, ok
}

// GetFunction returns the interpolation model of curve id, building and
// caching it on first use.
func (s *CurveStore) GetFunction(ctx context.Context, id string) (*interpolation.Model, error) {
	snap, ok := s.snapshot(id)
	if !ok {
		return nil, model.WrapKind("curves.get_function", model.ErrNotFound, fmt.Errorf("curve %q", id))
	}
	if v, ok := s.funcs.Load(id); ok {
		if cf := v.(*cachedFunc); cf.version == snap.version {
			metrics.RecordFunctionCacheHit()
			return cf.model, nil
		}
	}
	metrics.RecordFunctionCacheMiss()

	key := id + "@" + strconv.FormatUint(snap.version, 10)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.build(ctx, snap)
	})
	if err != nil {
		return nil, err
	}
	return v.(*interpolation.Model), nil
}

func (s *CurveStore) build(ctx context.Context, snap *curveSnapshot) (*interpolation.Model, error) {
	_, span := s.tracer.Start(ctx, "curves.build",
		trace.WithAttributes(
			attribute.String("curve.id", snap.curve.ID),
			attribute.Int("curve.points", len(snap.curve.Points)),
		))
	defer span.End()

	start := time.Now()
	m, err := s.engine.Build(snap.curve.Points)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		metrics.RecordErrorByComponent("curves", "not_interpolable")
		return nil, model.WrapKind("curves.build", ErrNotInterpolable, fmt.Errorf("curve %q: %w", snap.curve.ID, err))
	}
	metrics.RecordFunctionBuild(m.Kind().String(), float64(time.Since(start).Microseconds())/1000)
	span.SetAttributes(attribute.String("model.kind", m.Kind().String()))

	if fb := m.Fallback(); fb != nil {
		var de *interpolation.DegenerateError
		reason := "unknown"
		if errors.As(fb, &de) {
			reason = de.Reason
		}
		metrics.RecordDegenerateModel(reason)
		s.log.Warn(ctx, "hyperbolic fit replaced by linear fallback",
			logger.String("curve_id", snap.curve.ID),
			logger.String("reason", reason),
			logger.Error(fb),
		)
	}

	return s.cache(snap, m), nil
}

// cache stores m unless an equal or newer version is already cached, in
// which case the cached model wins so all callers share one instance.
func (s *CurveStore) cache(snap *curveSnapshot, m *interpolation.Model) *interpolation.Model {
	cf := &cachedFunc{version: snap.version, model: m}
	for {
		prev, loaded := s.funcs.LoadOrStore(snap.curve.ID, cf)
		if !loaded {
			return m
		}
		p := prev.(*cachedFunc)
		if p.version >= snap.version {
			if p.version == snap.version {
				return p.model
			}
			return m
		}
		if s.funcs.CompareAndSwap(snap.curve.ID, prev, cf) {
			return m
		}
	}
}

// Evaluate returns the expected consumption of curve id at load.
func (s *CurveStore) Evaluate(ctx context.Context, id string, load float64) (float64, error) {
	m, err := s.GetFunction(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.Eval(load), nil
}

// Validate reports which curves can be interpolated.
func (s *CurveStore) Validate(ctx context.Context) ValidationReport {
	report := ValidationReport{
		Healthy:  []string{},
		Broken:   make(map[string]string),
		Fallback: make(map[string]string),
	}
	for _, id := range s.IDs() {
		snap, ok := s.snapshot(id)
		if !ok {
			continue
		}
		if len(snap.curve.Points) == 0 {
			report.Broken[id] = "no sample points"
			continue
		}
		if err := snap.curve.Validate(); err != nil {
			report.Broken[id] = err.Error()
			continue
		}
		m, err := s.GetFunction(ctx, id)
		if err != nil {
			report.Broken[id] = err.Error()
			continue
		}
		report.Healthy = append(report.Healthy, id)
		if fb := m.Fallback(); fb != nil {
			report.Fallback[id] = fb.Error()
		}
	}
	metrics.UpdateCurveHealth(len(report.Healthy), len(report.Broken), len(report.Fallback))
	return report
}

// Get returns a copy of curve id.
func (s *CurveStore) Get(id string) (model.NormCurve, bool) {
	snap, ok := s.snapshot(id)
	if !ok {
		return model.NormCurve{}, false
	}
	return snap.curve.Clone(), true
}

// CurveType returns the type tag of curve id, or "".
func (s *CurveStore) CurveType(id string) string {
	snap, ok := s.snapshot(id)
	if !ok {
		return ""
	}
	return snap.curve.Type
}

// IDs returns all curve ids in ascending order.
func (s *CurveStore) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.curves))
	for id := range s.curves {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of stored curves.
func (s *CurveStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.curves)
}

// Curves returns copies of every curve ordered by id.
func (s *CurveStore) Curves() []model.NormCurve {
	ids := s.IDs()
	out := make([]model.NormCurve, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Fingerprint is an order-independent hash of the stored content. It is
// stable across restarts for the same set of curves.
func (s *CurveStore) Fingerprint() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var fp uint64
	for _, snap := range s.curves {
		fp ^= snap.hash
	}
	return fp
}

// contentHash hashes every field of a curve with points already sorted.
func contentHash(c model.NormCurve) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 16+len(c.ID)+len(c.Type))
	buf = appendString(buf, c.ID)
	buf = appendString(buf, c.Type)
	for _, p := range c.Points {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Load))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Consumption))
	}
	keys := make([]string, 0, len(c.Metadata))
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, c.Metadata[k])
	}
	_, _ = d.Write(buf)
	return d.Sum64()
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s))) //nolint:gosec // length of an in-memory string
	return append(buf, s...)
}
