package model

import (
	"strings"
	"time"
)

// Completeness tags whether a natural key can take part in duplicate grouping.
type Completeness int

const (
	// KeyComplete means route number, trip date and operator are all present.
	KeyComplete Completeness = iota
	// KeyIncomplete means at least one component is missing; such rows are
	// never grouped with others.
	KeyIncomplete
)

func (c Completeness) String() string {
	if c == KeyComplete {
		return "complete"
	}
	return "incomplete"
}

// MarshalText renders the completeness tag for JSON output.
func (c Completeness) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// NaturalKey identifies one trip of one route by one operator.
type NaturalKey struct {
	RouteNumber string `json:"route_number"`
	TripDate    string `json:"trip_date"`
	OperatorID  string `json:"operator_id"`
}

// Completeness reports whether all three components are present.
func (k NaturalKey) Completeness() Completeness {
	if strings.TrimSpace(k.RouteNumber) == "" ||
		strings.TrimSpace(k.TripDate) == "" ||
		strings.TrimSpace(k.OperatorID) == "" {
		return KeyIncomplete
	}
	return KeyComplete
}

// String renders the key as route|date|operator with trimmed components.
func (k NaturalKey) String() string {
	return strings.TrimSpace(k.RouteNumber) + "|" +
		strings.TrimSpace(k.TripDate) + "|" +
		strings.TrimSpace(k.OperatorID)
}

// SectionEntry is one segment line of a route record.
type SectionEntry struct {
	Name              string  `json:"name"`
	NormID            string  `json:"norm_id,omitempty"`
	Distance          float64 `json:"distance"`
	GrossTonKm        float64 `json:"gross_ton_km"`
	Load              float64 `json:"load"`
	ActualConsumption float64 `json:"actual_consumption"`
	NormConsumption   float64 `json:"norm_consumption"`
}

// Provenance records where a row was read from.
type Provenance struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ObservationRow is one route record as read from one source document.
type ObservationRow struct {
	Key        NaturalKey     `json:"key"`
	Sections   []SectionEntry `json:"sections"`
	Provenance Provenance     `json:"provenance"`
}

// TotalConsumption sums actual consumption over all sections.
func (r ObservationRow) TotalConsumption() float64 {
	total := 0.0
	for _, s := range r.Sections {
		total += s.ActualConsumption
	}
	return total
}

// Completeness counts populated optional fields of the row: provenance
// source and timestamp, then per section the norm id, load, gross-ton-km
// and norm consumption.
func (r ObservationRow) Completeness() int {
	n := 0
	if strings.TrimSpace(r.Provenance.Source) != "" {
		n++
	}
	if !r.Provenance.Timestamp.IsZero() {
		n++
	}
	for _, s := range r.Sections {
		if strings.TrimSpace(s.NormID) != "" {
			n++
		}
		if s.Load > 0 {
			n++
		}
		if s.GrossTonKm > 0 {
			n++
		}
		if s.NormConsumption > 0 {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no slices with r.
func (r ObservationRow) Clone() ObservationRow {
	out := r
	out.Sections = append([]SectionEntry(nil), r.Sections...)
	return out
}

// DiscardedRow keeps the audit trail of a row that lost duplicate resolution.
type DiscardedRow struct {
	Key        NaturalKey `json:"key"`
	Provenance Provenance `json:"provenance"`
	Index      int        `json:"index"`
}

// MergeWarning records a non-fatal norm id conflict found while merging
// repeated sections of one route.
type MergeWarning struct {
	Section     string `json:"section"`
	KeptNormID  string `json:"kept_norm_id"`
	OtherNormID string `json:"other_norm_id"`
}

// CanonicalRoute is the record chosen to represent a group of duplicates.
type CanonicalRoute struct {
	Key            NaturalKey     `json:"key"`
	Completeness   Completeness   `json:"completeness"`
	Row            ObservationRow `json:"row"`
	Sections       []SectionEntry `json:"sections"`
	DuplicateCount int            `json:"duplicate_count"`
	Discarded      []DiscardedRow `json:"discarded,omitempty"`
	Warnings       []MergeWarning `json:"warnings,omitempty"`
}

// Section returns the merged section with the given name.
func (c CanonicalRoute) Section(name string) (SectionEntry, bool) {
	for _, s := range c.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return SectionEntry{}, false
}

// SingleSection reports whether the route consists of exactly one section.
func (c CanonicalRoute) SingleSection() bool {
	return len(c.Sections) == 1
}
