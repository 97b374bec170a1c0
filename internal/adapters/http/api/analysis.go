package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/normscope/internal/domain/analysis"
	"github.com/okian/normscope/internal/domain/model"
)

// AnalysisDependencies defines the interface for deviation analysis.
type AnalysisDependencies interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error)
	AnalyzeBatch(ctx context.Context, reqs []model.AnalysisRequest) ([]analysis.BatchItem, error)
}

type batchRequest struct {
	Requests []model.AnalysisRequest `json:"requests"`
}

type batchResponse struct {
	Items []analysis.BatchItem `json:"items"`
}

// AnalysisHandler handles analysis requests.
type AnalysisHandler struct {
	deps         AnalysisDependencies
	maxRequests  int
	maxBodyBytes int64
}

// NewAnalysisHandler creates a new analysis handler. Batch bodies larger
// than maxBodyBytes are rejected.
func NewAnalysisHandler(deps AnalysisDependencies, maxRequests int, maxBodyBytes int64) *AnalysisHandler {
	return &AnalysisHandler{deps: deps, maxRequests: maxRequests, maxBodyBytes: maxBodyBytes}
}

// HandleGetAnalysis handles GET /analysis?segment=&norm_id=&single_section= requests.
func (h *AnalysisHandler) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_analysis"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	single, err := parseBoolParam(q.Get("single_section"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, err))
		return
	}
	req := model.AnalysisRequest{
		Segment:           q.Get("segment"),
		NormID:            q.Get("norm_id"),
		SingleSectionOnly: single,
	}
	if err := req.Validate(); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	res, err := h.deps.Analyze(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePostBatch handles POST /analysis/batch requests.
func (h *AnalysisHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_analysis_batch"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req batchRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, err))
		return
	}
	switch {
	case len(req.Requests) == 0:
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, errors.New("missing requests")))
		return
	case len(req.Requests) > h.maxRequests:
		writeError(w, http.StatusBadRequest, "limit_exceeded",
			model.WrapKind(op, ErrBadRequest, fmt.Errorf("at most %d requests per batch", h.maxRequests)))
		return
	}
	items, err := h.deps.AnalyzeBatch(r.Context(), req.Requests)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Items: items})
}

func parseBoolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}
