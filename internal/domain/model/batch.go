package model

import "time"

// Batch is one ingestion envelope. A batch may carry curves, rows or both.
type Batch struct {
	ID         string           `json:"batch_id"`
	Curves     []NormCurve      `json:"curves,omitempty"`
	Rows       []ObservationRow `json:"rows,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// Empty reports whether the batch carries nothing to apply.
func (b Batch) Empty() bool {
	return len(b.Curves) == 0 && len(b.Rows) == 0
}

// CurveOutcome is the per-id result of a curve upsert.
type CurveOutcome string

// Curve upsert outcomes.
const (
	CurveAdded    CurveOutcome = "added"
	CurveUpdated  CurveOutcome = "updated"
	CurveRejected CurveOutcome = "rejected"
)

// IngestReport summarizes how a batch was applied.
type IngestReport struct {
	BatchID         string                  `json:"batch_id"`
	Curves          map[string]CurveOutcome `json:"curves,omitempty"`
	RejectedCurves  map[string]string       `json:"rejected_curves,omitempty"`
	RowsReceived    int                     `json:"rows_received"`
	RowsKept        int                     `json:"rows_kept"`
	RowsDiscarded   int                     `json:"rows_discarded"`
	IncompleteKeys  int                     `json:"incomplete_keys"`
	CanonicalRoutes int                     `json:"canonical_routes"`
	MergeWarnings   int                     `json:"merge_warnings"`
}

// SubmitStatus tells the caller what happened to a submitted batch.
type SubmitStatus string

// Submission outcomes.
const (
	SubmitQueued    SubmitStatus = "queued"
	SubmitApplied   SubmitStatus = "applied"
	SubmitDuplicate SubmitStatus = "duplicate"
)

// Submission is the answer to a batch submission. Report is set only when
// the batch was applied synchronously.
type Submission struct {
	BatchID string        `json:"batch_id"`
	Status  SubmitStatus  `json:"status"`
	Report  *IngestReport `json:"report,omitempty"`
}
