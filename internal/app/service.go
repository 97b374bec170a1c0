// Package service wires the norm-curve stores, the analysis coordinator and
// the ingestion pipeline, and implements the dependencies required by the
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/normscope/internal/adapters/catalog"
	ingestqueue "github.com/okian/normscope/internal/adapters/mq/queue"
	workerpool "github.com/okian/normscope/internal/adapters/mq/worker"
	"github.com/okian/normscope/internal/adapters/persistence"
	"github.com/okian/normscope/internal/adapters/repository"
	"github.com/okian/normscope/internal/config"
	"github.com/okian/normscope/internal/domain/analysis"
	"github.com/okian/normscope/internal/domain/classifier"
	"github.com/okian/normscope/internal/domain/dedupe"
	"github.com/okian/normscope/internal/domain/interpolation"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	"github.com/okian/normscope/pkg/metrics"
)

// Service implements the API dependencies for normscope.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	// Core components
	curves      *repository.CurveStore
	routes      *repository.RouteStore
	classifier  *classifier.Classifier
	coordinator *analysis.Coordinator
	tracker     dedupe.BatchTracker
	queue       *ingestqueue.InMemoryQueue
	pool        *workerpool.Pool
	store       *persistence.Store

	// State
	started   bool
	startedAt time.Time
	stopCh    chan struct{}
	sweepDone chan struct{}
	cancelRun context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the service configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, restores persisted curves, loads the curve
// catalog and starts the ingestion workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	cfg := s.cfg

	s.logger.Info(ctx, "starting normscope service...")

	engine := interpolation.New(interpolation.WithResidualTolerance(cfg.FitResidualTolerance))
	s.curves = repository.NewCurveStore(
		repository.WithEngine(engine),
		repository.WithCurveLogger(s.logger.Named("curves")),
	)
	s.routes = repository.NewRouteStore(repository.WithRouteLogger(s.logger.Named("routes")))

	cls, err := classifier.New(
		classifier.WithThresholds(cfg.Thresholds()),
		classifier.WithTypeThresholds(cfg.TypeThresholds),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStart, err)
	}
	s.classifier = cls

	coordOpts := []analysis.Option{
		analysis.WithClassifier(cls),
		analysis.WithMaxAge(cfg.ResultCacheMaxAge()),
		analysis.WithBatchLimit(cfg.AnalysisWorkerCount),
		analysis.WithLogger(s.logger.Named("analysis")),
	}
	if cfg.PersistenceDir != "" {
		store, err := persistence.Open(cfg.PersistenceDir,
			persistence.WithResultTTL(cfg.ResultTTL()),
			persistence.WithLogger(s.logger.Named("persistence")),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStart, err)
		}
		s.store = store
		coordOpts = append(coordOpts, analysis.WithResultStore(store))
		if err := s.restoreCurves(ctx); err != nil {
			_ = store.Close()
			s.store = nil
			return fmt.Errorf("%w: %w", ErrStart, err)
		}
	}

	coord, err := analysis.New(s.curves, s.routes, coordOpts...)
	if err != nil {
		s.closeStore(ctx)
		return fmt.Errorf("%w: %w", ErrStart, err)
	}
	s.coordinator = coord

	if cfg.CurvesFile != "" {
		if err := s.loadCatalog(ctx, cfg.CurvesFile); err != nil {
			s.closeStore(ctx)
			return fmt.Errorf("%w: %w", ErrStart, err)
		}
	}

	s.tracker = dedupe.NewBatchTracker(dedupe.WithMaxSize(cfg.BatchDedupeSize))
	s.queue = ingestqueue.NewInMemoryQueue(
		ingestqueue.WithCapacity(cfg.QueueSize),
		ingestqueue.WithBufferSize(cfg.QueueSize),
	)

	// Workers outlive the start context; Stop ends them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRun = cancel
	s.pool = workerpool.NewPool(cfg.IngestWorkerCount, s.queue, s,
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(runCtx)

	s.stopCh = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(cfg.CacheSweepInterval(), s.stopCh, s.sweepDone)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "normscope service started",
		logger.Int("ingestWorkers", s.pool.Size()),
		logger.Int("queueSize", cfg.QueueSize),
		logger.Int("curves", s.curves.Count()),
		logger.Bool("persistence", s.store != nil),
	)
	return nil
}

func (s *Service) restoreCurves(ctx context.Context) error {
	restored, err := s.store.LoadCurves(ctx)
	if err != nil {
		return fmt.Errorf("restore curves: %w", err)
	}
	if len(restored) == 0 {
		return nil
	}
	report := s.curves.Upsert(ctx, restored)
	s.logger.Info(ctx, "restored persisted curves",
		logger.Int("added", report.Count(model.CurveAdded)),
		logger.Int("rejected", len(report.Rejected)),
	)
	return nil
}

func (s *Service) loadCatalog(ctx context.Context, path string) error {
	curves, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	before := s.curves.Fingerprint()
	report := s.curves.Upsert(ctx, curves)
	for id, rerr := range report.Rejected {
		s.logger.Warn(ctx, "catalog curve rejected", logger.String("curve_id", id), logger.Error(rerr))
	}
	s.logger.Info(ctx, "curve catalog loaded",
		logger.String("path", path),
		logger.Int("added", report.Count(model.CurveAdded)),
		logger.Int("updated", report.Count(model.CurveUpdated)),
		logger.Int("rejected", len(report.Rejected)),
	)
	if s.curves.Fingerprint() != before {
		s.persistCurves(ctx)
	}
	return nil
}

func (s *Service) closeStore(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing persistence", logger.Error(err))
	}
	s.store = nil
}

// Stop drains the ingestion queue and shuts the service down.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping normscope service...")

	var errs []error
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	close(s.stopCh)
	<-s.sweepDone
	if s.cancelRun != nil {
		s.cancelRun()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close persistence: %w", err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "normscope service stopped")
	return errors.Join(errs...)
}

func (s *Service) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if interval <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if n := s.coordinator.Sweep(now); n > 0 {
				s.logger.Debug(context.Background(), "swept analysis results", logger.Int("removed", n))
			}
		}
	}
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Submit accepts an ingestion batch. A batch id seen before is reported as
// a duplicate and not applied again. With wait the batch is applied before
// Submit returns; otherwise it is queued for the workers.
func (s *Service) Submit(ctx context.Context, b model.Batch, wait bool) (model.Submission, error) {
	if err := s.running(); err != nil {
		return model.Submission{}, err
	}
	if b.Empty() {
		return model.Submission{}, model.Validationf("service.submit", "batch carries no curves or rows")
	}
	b.ID = strings.TrimSpace(b.ID)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = time.Now()
	}
	metrics.RecordBatchReceived(batchKind(b))

	if s.tracker.SeenAndRecord(ctx, b.ID) {
		metrics.RecordBatchDuplicate()
		s.logger.Debug(ctx, "duplicate batch detected, skipping", logger.String("batch_id", b.ID))
		return model.Submission{BatchID: b.ID, Status: model.SubmitDuplicate}, nil
	}

	if wait {
		report, err := s.ApplyBatch(ctx, b)
		if err != nil {
			s.tracker.Unrecord(ctx, b.ID)
			return model.Submission{}, err
		}
		return model.Submission{BatchID: b.ID, Status: model.SubmitApplied, Report: &report}, nil
	}

	if err := s.queue.Push(ctx, b); err != nil {
		s.tracker.Unrecord(ctx, b.ID)
		switch {
		case errors.Is(err, ingestqueue.ErrFull):
			return model.Submission{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
		case errors.Is(err, ingestqueue.ErrClosed):
			return model.Submission{}, fmt.Errorf("%w: %w", ErrNotStarted, err)
		default:
			return model.Submission{}, err
		}
	}
	return model.Submission{BatchID: b.ID, Status: model.SubmitQueued}, nil
}

func batchKind(b model.Batch) string { //nolint:gocritic // hugeParam: Batch is read only
	switch {
	case len(b.Curves) > 0 && len(b.Rows) > 0:
		return "mixed"
	case len(b.Curves) > 0:
		return "curves"
	default:
		return "rows"
	}
}

// ApplyBatch upserts the batch's curves and ingests its rows. Rejected
// curves are reported, not returned as an error.
func (s *Service) ApplyBatch(ctx context.Context, b model.Batch) (model.IngestReport, error) { //nolint:gocritic // hugeParam: Batch is passed by value for channel semantics
	report := model.IngestReport{BatchID: b.ID, RowsReceived: len(b.Rows)}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	generation := s.coordinator.Generation()

	if len(b.Curves) > 0 {
		before := s.curves.Fingerprint()
		up := s.curves.Upsert(ctx, b.Curves)
		report.Curves = up.Outcomes
		if len(up.Rejected) > 0 {
			report.RejectedCurves = make(map[string]string, len(up.Rejected))
			for id, err := range up.Rejected {
				report.RejectedCurves[id] = err.Error()
			}
		}
		if s.curves.Fingerprint() != before {
			s.persistCurves(ctx)
		}
	}

	if len(b.Rows) > 0 {
		sum := s.routes.Ingest(ctx, b.Rows)
		report.RowsKept = sum.RowsKept
		report.RowsDiscarded = sum.RowsDiscarded
		report.IncompleteKeys = sum.IncompleteKeys
		report.CanonicalRoutes = sum.CanonicalRoutes
		report.MergeWarnings = sum.MergeWarnings
	} else {
		report.CanonicalRoutes = s.routes.Count()
	}

	if s.coordinator.Generation() != generation {
		s.coordinator.Invalidate()
	}

	s.logger.Debug(ctx, "batch applied",
		logger.String("batch_id", b.ID),
		logger.Int("curves", len(b.Curves)),
		logger.Int("rows", len(b.Rows)),
	)
	return report, nil
}

func (s *Service) persistCurves(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveCurves(ctx, s.curves.Curves()); err != nil {
		metrics.RecordErrorByComponent("service", "persist_curves")
		s.logger.Warn(ctx, "failed to persist curves", logger.Error(err))
	}
}

// Analyze runs or reuses the analysis of one segment.
func (s *Service) Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error) {
	if err := s.running(); err != nil {
		return model.AnalysisResult{}, err
	}
	return s.coordinator.Analyze(ctx, req)
}

// AnalyzeBatch runs several analyses in parallel.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []model.AnalysisRequest) ([]analysis.BatchItem, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, model.Validationf("service.analyze_batch", "no requests")
	}
	return s.coordinator.AnalyzeBatch(ctx, reqs)
}

// Routes lists canonical routes, optionally filtered by segment. The limit
// is capped by the configured maximum; a non-positive limit uses it.
func (s *Service) Routes(_ context.Context, segment string, singleOnly bool, limit int) ([]model.CanonicalRoute, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if maxLimit := s.cfg.MaxRoutesLimit; limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	return s.routes.Snapshot().Routes(strings.TrimSpace(segment), singleOnly, limit), nil
}

// Curve returns the stored curve id.
func (s *Service) Curve(_ context.Context, id string) (model.NormCurve, error) {
	if err := s.running(); err != nil {
		return model.NormCurve{}, err
	}
	c, ok := s.curves.Get(strings.TrimSpace(id))
	if !ok {
		return model.NormCurve{}, model.WrapKind("service.curve", model.ErrNotFound, fmt.Errorf("curve %q", id))
	}
	return c, nil
}

// ValidateCurves reports which stored curves can be interpolated.
func (s *Service) ValidateCurves(ctx context.Context) (repository.ValidationReport, error) {
	if err := s.running(); err != nil {
		return repository.ValidationReport{}, err
	}
	return s.curves.Validate(ctx), nil
}

// Evaluate returns the expected consumption of curve id at load.
func (s *Service) Evaluate(ctx context.Context, id string, load float64) (float64, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	if math.IsNaN(load) || math.IsInf(load, 0) || load <= 0 {
		return 0, model.Validationf("service.evaluate", "load must be a positive number, got %v", load)
	}
	return s.curves.Evaluate(ctx, strings.TrimSpace(id), load)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"queueSize":   s.cfg.QueueSize,
		"dedupeSize":  s.cfg.BatchDedupeSize,
		"persistence": s.cfg.PersistenceDir != "",
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	queueLen := s.queue.Len(ctx)
	curves := s.curves.Count()
	routes := s.routes.Snapshot()
	cacheSize := s.coordinator.CacheSize()

	stats["uptimeSeconds"] = time.Since(s.startedAt).Seconds()
	stats["queueLength"] = queueLen
	stats["workerCount"] = s.pool.Size()
	stats["busyWorkers"] = s.pool.Busy()
	stats["processedBatches"] = s.pool.Processed()
	stats["trackedBatches"] = s.tracker.Size()
	stats["curves"] = curves
	stats["canonicalRoutes"] = routes.Len()
	stats["routeVersion"] = routes.Version()
	stats["resultCacheSize"] = cacheSize
	stats["generation"] = s.coordinator.Generation()

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateCurvesTotal(curves)
	metrics.UpdateCanonicalRoutes(routes.Len())
	metrics.UpdateResultCacheSize(cacheSize)
	return stats
}

// Size returns the number of remembered batch ids.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tracker == nil {
		return 0
	}
	return s.tracker.Size()
}
