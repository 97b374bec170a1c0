package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/normscope/internal/domain/model"
)

// RoutesDependencies defines the interface for canonical route queries.
type RoutesDependencies interface {
	Routes(ctx context.Context, segment string, singleOnly bool, limit int) ([]model.CanonicalRoute, error)
}

type routesResponse struct {
	Count  int                    `json:"count"`
	Routes []model.CanonicalRoute `json:"routes"`
}

// RoutesHandler handles canonical route listings.
type RoutesHandler struct {
	deps RoutesDependencies
}

// NewRoutesHandler creates a new routes handler.
func NewRoutesHandler(deps RoutesDependencies) *RoutesHandler {
	return &RoutesHandler{deps: deps}
}

// HandleGetRoutes handles GET /routes?segment=&single_section=&limit=N requests.
func (h *RoutesHandler) HandleGetRoutes(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_routes"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, errors.New("invalid limit")))
			return
		}
		limit = n
	}
	single, err := parseBoolParam(q.Get("single_section"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", model.WrapKind(op, ErrBadRequest, err))
		return
	}
	routes, err := h.deps.Routes(r.Context(), q.Get("segment"), single, limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if routes == nil {
		routes = []model.CanonicalRoute{}
	}
	writeJSON(w, http.StatusOK, routesResponse{Count: len(routes), Routes: routes})
}
