// Package repository holds the in-memory norm curve and route stores.
package repository

import (
	"context"

	"github.com/okian/normscope/internal/domain/interpolation"
	"github.com/okian/normscope/internal/domain/model"
)

// Curves provides read/write access to norm curves and their functions.
type Curves interface {
	// Upsert replaces curves by id and reports per-id outcomes.
	Upsert(ctx context.Context, curves []model.NormCurve) UpsertReport
	// GetFunction returns the cached or freshly built model of curve id.
	// Returns an error matching model.ErrNotFound if id is unknown.
	GetFunction(ctx context.Context, id string) (*interpolation.Model, error)
	// Evaluate is GetFunction followed by Eval.
	Evaluate(ctx context.Context, id string, load float64) (float64, error)
	// Validate reports which curves can be interpolated.
	Validate(ctx context.Context) ValidationReport
	// CurveType returns the type tag of curve id, or "".
	CurveType(id string) string
	// Fingerprint is an order-independent content hash.
	Fingerprint() uint64
	Count() int
}

// Routes provides access to canonical routes.
type Routes interface {
	// Ingest reconciles a batch of rows into the canonical routes.
	Ingest(ctx context.Context, rows []model.ObservationRow) IngestSummary
	// Snapshot returns the current immutable route view.
	Snapshot() *RouteSnapshot
	// Candidates returns the routes containing section and the fingerprint
	// of the snapshot they came from.
	Candidates(section string, singleOnly bool) ([]model.CanonicalRoute, uint64)
	Fingerprint() uint64
	Count() int
}

var (
	_ Curves = (*CurveStore)(nil)
	_ Routes = (*RouteStore)(nil)
)
