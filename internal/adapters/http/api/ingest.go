package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/normscope/internal/domain/model"
)

// IngestDependencies defines the interface for batch ingestion.
type IngestDependencies interface {
	// Submit queues b, or applies it before returning when wait is set.
	Submit(ctx context.Context, b model.Batch, wait bool) (model.Submission, error)
}

// curvesRequest mirrors the OpenAPI schema for POST /curves.
type curvesRequest struct {
	BatchID string            `json:"batch_id"`
	Curves  []model.NormCurve `json:"curves"`
}

// observationsRequest mirrors the OpenAPI schema for POST /observations.
type observationsRequest struct {
	BatchID string                 `json:"batch_id"`
	Rows    []model.ObservationRow `json:"rows"`
}

// IngestHandler handles curve and observation uploads.
type IngestHandler struct {
	deps         IngestDependencies
	maxBodyBytes int64
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps IngestDependencies, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{deps: deps, maxBodyBytes: maxBodyBytes}
}

// HandlePostCurves handles POST /curves requests.
func (h *IngestHandler) HandlePostCurves(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_curves"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req curvesRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Curves) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, errors.New("missing curves")))
		return
	}
	h.submit(w, r, model.Batch{ID: req.BatchID, Curves: req.Curves})
}

// HandlePostObservations handles POST /observations requests.
func (h *IngestHandler) HandlePostObservations(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_observations"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req observationsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, errors.New("missing rows")))
		return
	}
	h.submit(w, r, model.Batch{ID: req.BatchID, Rows: req.Rows})
}

func (h *IngestHandler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	return json.NewDecoder(body).Decode(v)
}

func (h *IngestHandler) submit(w http.ResponseWriter, r *http.Request, b model.Batch) { //nolint:gocritic // hugeParam: Batch is handed over by value
	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind("api.submit", ErrBadRequest, errors.New("invalid wait; must be a boolean")))
			return
		}
		wait = parsed
	}

	sub, err := h.deps.Submit(r.Context(), b, wait)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if sub.Status == model.SubmitQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, sub)
}
