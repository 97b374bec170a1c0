package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/normscope/internal/adapters/repository"
	"github.com/okian/normscope/internal/domain/model"
)

// CurveDependencies defines the interface for norm curve queries.
type CurveDependencies interface {
	Curve(ctx context.Context, id string) (model.NormCurve, error)
	ValidateCurves(ctx context.Context) (repository.ValidationReport, error)
	Evaluate(ctx context.Context, id string, load float64) (float64, error)
}

type evaluateResponse struct {
	ID       string  `json:"id"`
	Load     float64 `json:"load"`
	Expected float64 `json:"expected"`
}

// CurvesHandler handles norm curve queries.
type CurvesHandler struct {
	deps CurveDependencies
}

// NewCurvesHandler creates a new curves handler.
func NewCurvesHandler(deps CurveDependencies) *CurvesHandler {
	return &CurvesHandler{deps: deps}
}

// HandleValidate handles GET /curves/validate requests.
func (h *CurvesHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	report, err := h.deps.ValidateCurves(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleCurve handles GET /curves/{id} and GET /curves/{id}/evaluate?load=
// requests.
func (h *CurvesHandler) HandleCurve(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_curve"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	// Extract path parameters after /curves/
	id, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/curves/"), "/")
	if id == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", model.NewKind(op, ErrBadRequest))
		return
	}
	switch action {
	case "":
		c, err := h.deps.Curve(r.Context(), id)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "evaluate":
		load, err := strconv.ParseFloat(r.URL.Query().Get("load"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, errors.New("invalid load")))
			return
		}
		v, err := h.deps.Evaluate(r.Context(), id, load)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, evaluateResponse{ID: id, Load: load, Expected: v})
	default:
		http.NotFound(w, r)
	}
}
