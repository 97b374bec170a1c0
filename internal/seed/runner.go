package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Run executes a complete seeding run.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("seed")

	if cfg.Curves < 1 || cfg.Routes < 1 || cfg.Segments < 1 || cfg.MaxSections < 1 {
		return stats, fmt.Errorf("curves, routes, segments and max sections must be positive")
	}

	log.Info(ctx, "starting normscope seed",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("curves", cfg.Curves),
		logger.Int("routes", cfg.Routes),
		logger.Int("workers", cfg.Workers),
		logger.Any("seed", cfg.Seed))

	c := NewHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := c.GetJSON(ctx, "/stats", nil); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrServiceUnhealthy, err)
	}

	// Step 2: Generate curves and rows
	plan := Generate(cfg)
	if cfg.CatalogFile != "" {
		if err := saveCatalog(cfg.CatalogFile, plan.Curves); err != nil {
			log.Warn(ctx, "failed to save catalog", logger.Error(err))
		}
	}

	// Step 3: Apply curves, then queue rows
	if err := submitCurves(ctx, c, uuid.NewString(), plan.Curves, stats); err != nil {
		return stats, err
	}
	batches := Batches(plan.Rows, cfg.BatchSize, uuid.NewString)
	batches = withResubmits(batches, cfg.ResubmitRate)
	if err := submitBatches(ctx, cfg, c, batches, stats); err != nil {
		return stats, fmt.Errorf("batch submission failed: %w", err)
	}
	if stats.BatchesFailed > 0 {
		return stats, fmt.Errorf("%d batches failed", stats.BatchesFailed)
	}

	// Step 4: Wait for processing
	if err := waitForRoutes(ctx, cfg, c, plan.Routes); err != nil {
		return stats, err
	}

	// Step 5: Analyze and verify
	results, err := analyzeSegments(ctx, c, plannedSegments(plan))
	if err != nil {
		return stats, err
	}
	verr := verifyResults(ctx, plan, results, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, verr
}

// withResubmits appends copies of the first rate share of batches. The
// service must report them as duplicates.
func withResubmits(batches []model.Batch, rate float64) []model.Batch {
	n := int(float64(len(batches)) * rate)
	return append(batches, batches[:n]...)
}

// saveCatalog writes curves in the catalog format the service loads at startup.
func saveCatalog(path string, curves []model.NormCurve) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := yaml.Marshal(struct {
		Curves []model.NormCurve `yaml:"curves"`
	}{Curves: curves})
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return os.WriteFile(path, data, filePermission)
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var batchesPerSecond float64
	if stats.Duration > 0 {
		batchesPerSecond = float64(stats.BatchesSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Named("seed").Info(ctx, "final statistics",
		logger.Int("curvesApplied", stats.CurvesApplied),
		logger.Int("batchesSubmitted", stats.BatchesSubmitted),
		logger.Int("batchesQueued", stats.BatchesQueued),
		logger.Int("batchesDuplicate", stats.BatchesDuplicate),
		logger.Int("retries", stats.Retries),
		logger.Int("segments", stats.Segments),
		logger.Int("recordsAnalyzed", stats.RecordsAnalyzed),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("batchesPerSecond", batchesPerSecond))
}
