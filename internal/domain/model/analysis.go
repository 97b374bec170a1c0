package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Status is the ordered deviation class of one observation.
type Status int

// Statuses in ascending severity.
const (
	StatusExcellent Status = iota
	StatusGood
	StatusAcceptable
	StatusPoor
	StatusCritical
)

var statusNames = [...]string{"excellent", "good", "acceptable", "poor", "critical"}

// AllStatuses lists every status in ascending severity.
func AllStatuses() []Status {
	return []Status{StatusExcellent, StatusGood, StatusAcceptable, StatusPoor, StatusCritical}
}

func (s Status) String() string {
	if s < StatusExcellent || s > StatusCritical {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText renders the status name, so Status works as a JSON map key.
func (s Status) MarshalText() ([]byte, error) {
	if s < StatusExcellent || s > StatusCritical {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", name)
}

// AnalysisRequest selects the records to analyze.
type AnalysisRequest struct {
	Segment           string `json:"segment"`
	NormID            string `json:"norm_id,omitempty"`
	SingleSectionOnly bool   `json:"single_section_only"`
}

// Validate rejects an empty segment name.
func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Segment) == "" {
		return Validationf("model.analysis_request", "segment must not be empty")
	}
	return nil
}

// CacheKey is a stable hash of the request fields.
func (r AnalysisRequest) CacheKey() string {
	var b strings.Builder
	b.WriteString(strconv.Quote(r.Segment))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(r.NormID))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(r.SingleSectionOnly))
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// Skip reasons recorded for records that could not be analyzed.
const (
	SkipNoNorm        = "no_norm_id"
	SkipNormNotFound  = "norm_not_found"
	SkipNotModelable  = "norm_not_interpolable"
	SkipInvalidRecord = "invalid_record"
	SkipNonPositive   = "norm_non_positive"
)

// RecordResult is the outcome for one route section.
type RecordResult struct {
	Route      NaturalKey `json:"route"`
	Section    string     `json:"section"`
	NormID     string     `json:"norm_id,omitempty"`
	Load       float64    `json:"load"`
	Actual     float64    `json:"actual"`
	Expected   float64    `json:"expected"`
	Percent    float64    `json:"percent"`
	Status     Status     `json:"status"`
	Analyzed   bool       `json:"analyzed"`
	SkipReason string     `json:"skip_reason,omitempty"`
}

// MarshalJSON omits the status of skipped records, whose zero Status would
// otherwise read as excellent.
func (r RecordResult) MarshalJSON() ([]byte, error) {
	type plain RecordResult
	out := struct {
		plain
		Status *Status `json:"status,omitempty"`
	}{plain: plain(r)}
	if r.Analyzed {
		s := r.Status
		out.Status = &s
	}
	return json.Marshal(out)
}

// Stats aggregates the deviation of analyzed records.
type Stats struct {
	Mean           float64        `json:"mean"`
	Median         float64        `json:"median"`
	StdDev         float64        `json:"std_dev"`
	Min            float64        `json:"min"`
	Max            float64        `json:"max"`
	Histogram      map[Status]int `json:"histogram"`
	Worst          Status         `json:"worst"`
	ActionFraction float64        `json:"action_fraction"`
}

// AnalysisResult is the memoized answer to an AnalysisRequest.
type AnalysisResult struct {
	Segment     string          `json:"segment"`
	Request     AnalysisRequest `json:"request"`
	Total       int             `json:"total"`
	Analyzed    int             `json:"analyzed"`
	Skipped     int             `json:"skipped"`
	Records     []RecordResult  `json:"records"`
	Stats       Stats           `json:"stats"`
	SkipReasons map[string]int  `json:"skip_reasons"`
	CacheKey    string          `json:"cache_key"`
	Generation  uint64          `json:"generation"`
	ComputedAt  time.Time       `json:"computed_at"`
}
