package seed

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
)

// Backpressure retry policy.
const (
	maxRetries   = 8
	retryBackoff = 50 * time.Millisecond
)

type curvesBody struct {
	BatchID string            `json:"batch_id"`
	Curves  []model.NormCurve `json:"curves"`
}

type rowsBody struct {
	BatchID string                 `json:"batch_id"`
	Rows    []model.ObservationRow `json:"rows"`
}

// submitCurves applies the curves synchronously so rows queued afterwards
// always find their norms.
func submitCurves(ctx context.Context, c *HTTPClient, id string, curves []model.NormCurve, stats *Stats) error {
	var sub model.Submission
	status, err := c.PostJSON(ctx, "/curves?wait=true", curvesBody{BatchID: id, Curves: curves}, &sub)
	if err != nil {
		return fmt.Errorf("submit curves: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: POST /curves returned %d", ErrStatus, status)
	}
	if sub.Report != nil {
		stats.CurvesApplied = len(sub.Report.Curves)
	}
	return nil
}

// submitBatches posts row batches concurrently. Batches rejected with 429
// are retried with a linear backoff.
func submitBatches(ctx context.Context, cfg *Config, c *HTTPClient, batches []model.Batch, stats *Stats) error {
	log := logger.Get().Named("seed")
	var queued, duplicate, failed, submitted, retries atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Workers))
	for _, b := range batches {
		g.Go(func() error {
			res, n, err := submitBatch(gctx, c, b)
			submitted.Add(1)
			retries.Add(int64(n))
			switch {
			case err != nil:
				failed.Add(1)
				log.Warn(gctx, "batch failed", logger.String("batchID", b.ID), logger.Error(err))
			case res == model.SubmitDuplicate:
				duplicate.Add(1)
			default:
				queued.Add(1)
			}
			if cfg.Verbose {
				log.Debug(gctx, "batch submitted",
					logger.String("batchID", b.ID),
					logger.String("status", string(res)),
					logger.Int("rows", len(b.Rows)))
			}
			return nil
		})
	}
	err := g.Wait()

	stats.BatchesSubmitted = int(submitted.Load())
	stats.BatchesQueued = int(queued.Load())
	stats.BatchesDuplicate = int(duplicate.Load())
	stats.BatchesFailed = int(failed.Load())
	stats.Retries = int(retries.Load())

	log.Info(ctx, "batch submission completed",
		logger.Int("queued", stats.BatchesQueued),
		logger.Int("duplicate", stats.BatchesDuplicate),
		logger.Int("failed", stats.BatchesFailed),
		logger.Int("retries", stats.Retries))
	if err != nil {
		return err
	}
	return ctx.Err()
}

func submitBatch(ctx context.Context, c *HTTPClient, b model.Batch) (model.SubmitStatus, int, error) {
	for attempt := 0; ; attempt++ {
		var sub model.Submission
		status, err := c.PostJSON(ctx, "/observations", rowsBody{BatchID: b.ID, Rows: b.Rows}, &sub)
		if err != nil {
			return "", attempt, err
		}
		switch {
		case status == http.StatusAccepted || status == http.StatusOK:
			return sub.Status, attempt, nil
		case status == http.StatusTooManyRequests && attempt < maxRetries:
			select {
			case <-ctx.Done():
				return "", attempt, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * retryBackoff):
			}
		default:
			return "", attempt, fmt.Errorf("%w: POST /observations returned %d", ErrStatus, status)
		}
	}
}

// waitForRoutes polls /stats until the expected number of canonical routes
// exists and the queue is drained.
func waitForRoutes(ctx context.Context, cfg *Config, c *HTTPClient, want int) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ProcessWait)
	defer cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		var st map[string]any
		if err := c.GetJSON(ctx, "/stats", &st); err == nil {
			routes, _ := st["canonicalRoutes"].(float64)
			queueLen, _ := st["queueLength"].(float64)
			busy, _ := st["busyWorkers"].(float64)
			if int(routes) >= want && queueLen == 0 && busy == 0 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
