// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/normscope/internal/domain/analysis"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	IngestDependencies
	AnalysisDependencies
	RoutesDependencies
	CurveDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	ingestHandler   *IngestHandler
	analysisHandler *AnalysisHandler
	routesHandler   *RoutesHandler
	curvesHandler   *CurvesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		ingestHandler:   NewIngestHandler(deps, o.maxBodyBytes),
		analysisHandler: NewAnalysisHandler(deps, o.maxBatchRequests, o.maxBodyBytes),
		routesHandler:   NewRoutesHandler(deps),
		curvesHandler:   NewCurvesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/curves", MetricsMiddleware(s.ingestHandler.HandlePostCurves, "curves"))
	mux.HandleFunc("/observations", MetricsMiddleware(s.ingestHandler.HandlePostObservations, "observations"))
	mux.HandleFunc("/analysis", MetricsMiddleware(s.analysisHandler.HandleGetAnalysis, "analysis"))
	mux.HandleFunc("/analysis/batch", MetricsMiddleware(s.analysisHandler.HandlePostBatch, "analysis_batch"))
	mux.HandleFunc("/routes", MetricsMiddleware(s.routesHandler.HandleGetRoutes, "routes"))
	mux.HandleFunc("/curves/validate", MetricsMiddleware(s.curvesHandler.HandleValidate, "curves_validate"))
	mux.HandleFunc("/curves/", MetricsMiddleware(s.curvesHandler.HandleCurve, "curve"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates error kinds from the service into HTTP
// status codes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, model.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, analysis.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "cancelled", err)
	default:
		logger.Get().Named("api").Error(ctx, "request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
