// Package analysis evaluates canonical routes against their norm curves
// and classifies how far observed consumption deviates from the norm.
package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/okian/normscope/internal/domain/classifier"
	"github.com/okian/normscope/internal/domain/interpolation"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	"github.com/okian/normscope/pkg/metrics"
)

// DefaultBatchLimit bounds parallel requests in AnalyzeBatch.
const DefaultBatchLimit = 4

// Curves is the part of the norm curve store the coordinator reads.
type Curves interface {
	GetFunction(ctx context.Context, id string) (*interpolation.Model, error)
	CurveType(id string) string
	Fingerprint() uint64
}

// Routes is the part of the route store the coordinator reads.
type Routes interface {
	Candidates(section string, singleOnly bool) ([]model.CanonicalRoute, uint64)
	Fingerprint() uint64
}

// Coordinator answers analysis requests and memoizes their results. A
// cached result is reused while the curve and route content it was
// computed from is unchanged and it is younger than the max age.
type Coordinator struct {
	curves     Curves
	routes     Routes
	classifier *classifier.Classifier

	cache      *resultCache
	flight     singleflight.Group
	store      ResultStore
	maxAge     time.Duration
	batchLimit int

	log    logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a coordinator over the given stores.
func New(curves Curves, routes Routes, opts ...Option) (*Coordinator, error) {
	if curves == nil || routes == nil {
		return nil, fmt.Errorf("analysis: %w: curve and route stores are required", ErrMissingDependency)
	}
	c := &Coordinator{
		curves:     curves,
		routes:     routes,
		classifier: classifier.Default(),
		batchLimit: DefaultBatchLimit,
		tracer:     otel.Tracer("github.com/okian/normscope/analysis"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("analysis")
	}
	c.cache = newResultCache(c.maxAge)
	return c, nil
}

// Generation identifies the data a result is computed from. It changes
// whenever a curve or a canonical route changes.
func (c *Coordinator) Generation() uint64 {
	return generation(c.curves.Fingerprint(), c.routes.Fingerprint())
}

func generation(curveFP, routeFP uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], curveFP)
	binary.LittleEndian.PutUint64(buf[8:], routeFP)
	return xxhash.Sum64(buf[:])
}

// Analyze classifies every record of the requested segment. An empty
// candidate set yields a zero-count result.
func (c *Coordinator) Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		metrics.RecordAnalysis("invalid")
		return model.AnalysisResult{}, err
	}
	req.Segment = strings.TrimSpace(req.Segment)
	req.NormID = strings.TrimSpace(req.NormID)
	key := req.CacheKey()

	ctx, span := c.tracer.Start(ctx, "analysis.analyze",
		trace.WithAttributes(
			attribute.String("analysis.segment", req.Segment),
			attribute.String("analysis.norm_id", req.NormID),
			attribute.Bool("analysis.single_section", req.SingleSectionOnly),
		))
	defer span.End()

	gen := c.Generation()
	if r, ok := c.cache.get(key, gen, c.now()); ok {
		span.SetAttributes(attribute.Bool("analysis.cache_hit", true))
		metrics.RecordAnalysis("cache_hit")
		return cloneResult(r), nil
	}

	for {
		ch := c.flight.DoChan(flightKey(key, gen), func() (any, error) {
			return c.load(ctx, req, key)
		})
		select {
		case <-ctx.Done():
			metrics.RecordAnalysis("cancelled")
			span.SetStatus(codes.Error, "cancelled")
			return model.AnalysisResult{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				// The shared computation belonged to a caller that gave up.
				if errors.Is(res.Err, ErrCancelled) && ctx.Err() == nil {
					continue
				}
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, "analysis failed")
				return model.AnalysisResult{}, res.Err
			}
			return cloneResult(res.Val.(model.AnalysisResult)), nil
		}
	}
}

// load serves one request from the caches or computes it.
func (c *Coordinator) load(ctx context.Context, req model.AnalysisRequest, key string) (model.AnalysisResult, error) {
	curveFP := c.curves.Fingerprint()
	candidates, routeFP := c.routes.Candidates(req.Segment, req.SingleSectionOnly)
	gen := generation(curveFP, routeFP)
	now := c.now()

	if r, ok := c.cache.get(key, gen, now); ok {
		metrics.RecordAnalysis("cache_hit")
		return r, nil
	}
	if r, ok := c.loadPersisted(ctx, key, gen, now); ok {
		metrics.UpdateResultCacheSize(c.cache.put(r, r.ComputedAt))
		metrics.RecordAnalysis("store_hit")
		return r, nil
	}

	start := time.Now()
	r, err := c.compute(ctx, req, candidates)
	if err != nil {
		metrics.RecordAnalysis("cancelled")
		c.log.Debug(ctx, "analysis discarded", logger.String("segment", req.Segment), logger.Error(err))
		return model.AnalysisResult{}, err
	}
	r.CacheKey = key
	r.Generation = gen
	r.ComputedAt = c.now()

	metrics.RecordAnalysis("computed")
	metrics.RecordAnalysisLatency(float64(time.Since(start).Microseconds()) / 1000)
	metrics.UpdateResultCacheSize(c.cache.put(r, r.ComputedAt))

	if c.store != nil {
		if err := c.store.SaveResult(ctx, r); err != nil {
			c.log.Warn(ctx, "failed to persist analysis result", logger.String("cache_key", key), logger.Error(err))
		}
	}
	c.log.Debug(ctx, "analysis computed",
		logger.String("segment", r.Segment),
		logger.Int("total", r.Total),
		logger.Int("analyzed", r.Analyzed),
		logger.Int("skipped", r.Skipped),
	)
	return r, nil
}

func (c *Coordinator) loadPersisted(ctx context.Context, key string, gen uint64, now time.Time) (model.AnalysisResult, bool) {
	if c.store == nil {
		return model.AnalysisResult{}, false
	}
	r, ok, err := c.store.LoadResult(ctx, key)
	if err != nil {
		c.log.Warn(ctx, "failed to load persisted analysis result", logger.String("cache_key", key), logger.Error(err))
		return model.AnalysisResult{}, false
	}
	if !ok || r.Generation != gen || !c.cache.fresh(r.ComputedAt, now) {
		return model.AnalysisResult{}, false
	}
	return r, true
}

// compute evaluates every candidate. It checks ctx before each candidate
// and returns no partial result when cancelled.
func (c *Coordinator) compute(ctx context.Context, req model.AnalysisRequest, candidates []model.CanonicalRoute) (model.AnalysisResult, error) {
	ctx, span := c.tracer.Start(ctx, "analysis.compute",
		trace.WithAttributes(attribute.Int("analysis.candidates", len(candidates))))
	defer span.End()

	res := model.AnalysisResult{
		Segment:     req.Segment,
		Request:     req,
		Records:     make([]model.RecordResult, 0, len(candidates)),
		SkipReasons: make(map[string]int),
	}
	percents := make([]float64, 0, len(candidates))
	statuses := make([]model.Status, 0, len(candidates))

	for _, route := range candidates {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return model.AnalysisResult{}, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		sec, ok := route.Section(req.Segment)
		if !ok {
			continue
		}
		rec := c.evaluate(ctx, req, route, sec)
		res.Records = append(res.Records, rec)
		res.Total++
		if !rec.Analyzed {
			res.Skipped++
			res.SkipReasons[rec.SkipReason]++
			continue
		}
		res.Analyzed++
		percents = append(percents, rec.Percent)
		statuses = append(statuses, rec.Status)
	}

	res.Stats = summarize(percents, statuses)
	for reason, n := range res.SkipReasons {
		metrics.RecordRecordsSkipped(reason, n)
	}
	for status, n := range res.Stats.Histogram {
		metrics.RecordRecordsClassified(status.String(), n)
	}
	span.SetAttributes(
		attribute.Int("analysis.analyzed", res.Analyzed),
		attribute.Int("analysis.skipped", res.Skipped),
	)
	return res, nil
}

// evaluate builds the record result of one route section.
func (c *Coordinator) evaluate(ctx context.Context, req model.AnalysisRequest, route model.CanonicalRoute, sec model.SectionEntry) model.RecordResult {
	rec := model.RecordResult{
		Route:   route.Key,
		Section: sec.Name,
		NormID:  req.NormID,
		Load:    sec.Load,
		Actual:  sec.ActualConsumption,
	}
	if rec.NormID == "" {
		rec.NormID = sec.NormID
	}
	if rec.NormID == "" {
		rec.SkipReason = model.SkipNoNorm
		return rec
	}
	if !validNumber(sec.Load) || sec.Load <= 0 || !validNumber(sec.ActualConsumption) {
		rec.SkipReason = model.SkipInvalidRecord
		return rec
	}

	fn, err := c.curves.GetFunction(ctx, rec.NormID)
	switch {
	case model.IsNotFound(err):
		rec.SkipReason = model.SkipNormNotFound
		return rec
	case err != nil:
		rec.SkipReason = model.SkipNotModelable
		return rec
	}

	rec.Expected = fn.Eval(sec.Load)
	// A hyperbolic fit can cross zero past its last sample.
	if !validNumber(rec.Expected) || rec.Expected <= 0 {
		rec.SkipReason = model.SkipNonPositive
		return rec
	}
	rec.Percent = Deviation(rec.Actual, rec.Expected)
	rec.Status = c.classifier.ClassifyFor(c.curves.CurveType(rec.NormID), rec.Percent)
	rec.Analyzed = true
	return rec
}

// Deviation returns the signed percent difference of actual from
// expected, or 0 when expected is 0.
func Deviation(actual, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return (actual - expected) / expected * 100
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BatchItem is the outcome of one request of AnalyzeBatch.
type BatchItem struct {
	Request model.AnalysisRequest `json:"request"`
	Result  *model.AnalysisResult `json:"result,omitempty"`
	Err     error                 `json:"-"`
	Error   string                `json:"error,omitempty"`
}

// AnalyzeBatch runs independent requests in parallel. A failing request is
// reported on its item; cancellation of ctx aborts the whole batch.
func (c *Coordinator) AnalyzeBatch(ctx context.Context, reqs []model.AnalysisRequest) ([]BatchItem, error) {
	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchLimit)
	for i, req := range reqs {
		i, req := i, req
		items[i].Request = req
		g.Go(func() error {
			r, err := c.Analyze(gctx, req)
			if err != nil {
				if errors.Is(err, ErrCancelled) {
					return err
				}
				items[i].Err = err
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// Sweep drops cached results that expired at now or belong to an older
// data generation. It returns how many were removed.
func (c *Coordinator) Sweep(now time.Time) int {
	removed, left := c.cache.sweep(c.Generation(), now)
	metrics.RecordResultCacheEvictions(removed)
	metrics.UpdateResultCacheSize(left)
	return removed
}

// Invalidate drops every cached result.
func (c *Coordinator) Invalidate() {
	n := c.cache.clear()
	metrics.RecordResultCacheEvictions(n)
	metrics.UpdateResultCacheSize(0)
}

// CacheSize returns the number of cached results.
func (c *Coordinator) CacheSize() int {
	return c.cache.len()
}

func flightKey(key string, gen uint64) string {
	return key + "@" + strconv.FormatUint(gen, 16)
}
