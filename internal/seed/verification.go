package seed

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
)

// maxAnalysisBatch matches the API's default per-request limit.
const maxAnalysisBatch = 100

type analysisBatchBody struct {
	Requests []model.AnalysisRequest `json:"requests"`
}

type analysisItem struct {
	Request model.AnalysisRequest `json:"request"`
	Result  *model.AnalysisResult `json:"result"`
	Error   string                `json:"error"`
}

type analysisBatchResponse struct {
	Items []analysisItem `json:"items"`
}

// analyzeSegments runs a batch analysis over every planted segment.
func analyzeSegments(ctx context.Context, c *HTTPClient, segments []string) (map[string]model.AnalysisResult, error) {
	out := make(map[string]model.AnalysisResult, len(segments))
	for start := 0; start < len(segments); start += maxAnalysisBatch {
		chunk := segments[start:min(start+maxAnalysisBatch, len(segments))]
		body := analysisBatchBody{Requests: make([]model.AnalysisRequest, len(chunk))}
		for i, s := range chunk {
			body.Requests[i] = model.AnalysisRequest{Segment: s}
		}
		var resp analysisBatchResponse
		status, err := c.PostJSON(ctx, "/analysis/batch", body, &resp)
		if err != nil {
			return nil, fmt.Errorf("analyze segments: %w", err)
		}
		if status != 200 {
			return nil, fmt.Errorf("%w: POST /analysis/batch returned %d", ErrStatus, status)
		}
		for _, it := range resp.Items {
			if it.Error != "" || it.Result == nil {
				return nil, fmt.Errorf("analyze %q: %s", it.Request.Segment, it.Error)
			}
			out[it.Request.Segment] = *it.Result
		}
	}
	return out, nil
}

// verifyResults compares each segment's status histogram with the plan.
func verifyResults(ctx context.Context, plan Plan, results map[string]model.AnalysisResult, stats *Stats) error {
	log := logger.Get().Named("seed")
	var errs []error
	for _, seg := range plannedSegments(plan) {
		res, ok := results[seg]
		if !ok {
			errs = append(errs, fmt.Errorf("segment %s: no result", seg))
			continue
		}
		stats.RecordsAnalyzed += res.Analyzed
		if res.Skipped > 0 {
			errs = append(errs, fmt.Errorf("segment %s: %d records skipped %v", seg, res.Skipped, res.SkipReasons))
		}
		for _, st := range model.AllStatuses() {
			want, got := plan.Expected[seg][st], res.Stats.Histogram[st]
			if want != got {
				errs = append(errs, fmt.Errorf("segment %s: %s want %d got %d", seg, st, want, got))
			}
		}
	}
	stats.Segments = len(results)
	stats.Mismatches = len(errs)
	if len(errs) > 0 {
		log.Error(ctx, "verification failed", logger.Int("mismatches", len(errs)))
		return fmt.Errorf("%w: %w", ErrVerification, errors.Join(errs...))
	}
	log.Info(ctx, "verification passed",
		logger.Int("segments", stats.Segments),
		logger.Int("records", stats.RecordsAnalyzed))
	return nil
}

func plannedSegments(plan Plan) []string {
	segs := make([]string, 0, len(plan.Expected))
	for s := range plan.Expected {
		segs = append(segs, s)
	}
	sort.Strings(segs)
	return segs
}
