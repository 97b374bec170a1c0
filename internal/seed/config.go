// Package seed generates synthetic norm curves and observation rows,
// submits them to a running service and verifies the analysis results
// against the deviations it planted.
package seed

import (
	"time"

	"github.com/okian/normscope/internal/domain/model"
)

// Config holds configuration for a seeding run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Curves        int           // Number of norm curves to generate
	Routes        int           // Number of distinct routes to generate
	MaxSections   int           // Upper bound of sections per route
	Segments      int           // Size of the segment name pool
	DuplicateRate float64       // Share of routes submitted twice under different provenance
	ResubmitRate  float64       // Share of batches re-sent with the same batch id
	BatchSize     int           // Rows per ingestion batch
	Workers       int           // Concurrent submitters
	Seed          uint64        // Generator seed
	Timeout       time.Duration // HTTP request timeout
	ProcessWait   time.Duration // How long to wait for queued batches to apply
	PollInterval  time.Duration // Stats polling interval while waiting
	CatalogFile   string        // Optional YAML catalog output for the generated curves
	Verbose       bool          // Enable per-batch logging
}

// Default configuration values.
const (
	DefaultCurves        = 20
	DefaultRoutes        = 2000
	DefaultMaxSections   = 4
	DefaultSegments      = 30
	DefaultDuplicateRate = 0.1
	DefaultResubmitRate  = 0.05
	DefaultBatchSize     = 100
	DefaultTimeout       = 30 * time.Second
	DefaultProcessWait   = 2 * time.Minute
	DefaultPollInterval  = 250 * time.Millisecond
)

// Plan is a generated data set together with what analysis must report for it.
type Plan struct {
	Curves []model.NormCurve
	Rows   []model.ObservationRow
	// Routes is the number of distinct natural keys in Rows.
	Routes int
	// Expected maps segment to the planted status histogram.
	Expected map[string]map[model.Status]int
}

// Stats holds run statistics.
type Stats struct {
	CurvesApplied    int
	BatchesSubmitted int
	BatchesQueued    int
	BatchesDuplicate int
	BatchesFailed    int
	Retries          int
	Segments         int
	RecordsAnalyzed  int
	Mismatches       int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
