// Package model contains domain models passed between layers.
package model

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// SamplePoint is one sampled (load, consumption) pair of a norm curve.
type SamplePoint struct {
	Load        float64 `json:"load" yaml:"load"`
	Consumption float64 `json:"consumption" yaml:"consumption"`
}

// Validate checks that both coordinates are finite and strictly positive.
func (p SamplePoint) Validate() error {
	const op = "model.sample_point"
	switch {
	case math.IsNaN(p.Load) || math.IsInf(p.Load, 0):
		return Validationf(op, "load is not finite")
	case math.IsNaN(p.Consumption) || math.IsInf(p.Consumption, 0):
		return Validationf(op, "consumption is not finite")
	case p.Load <= 0:
		return Validationf(op, "load must be positive, got %g", p.Load)
	case p.Consumption <= 0:
		return Validationf(op, "consumption must be positive, got %g", p.Consumption)
	}
	return nil
}

// NormCurve is the officially defined relationship between load and
// expected consumption for one norm identifier.
type NormCurve struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type,omitempty" yaml:"type"`
	Points   []SamplePoint     `json:"points" yaml:"points"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// Validate rejects an empty id and invalid sample points. A curve without
// points is accepted here; it is reported by store diagnostics instead.
func (c NormCurve) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return Validationf("model.norm_curve", "curve id must not be empty")
	}
	for i, p := range c.Points {
		if err := p.Validate(); err != nil {
			return WrapKind("model.norm_curve", ErrValidation, &PointError{CurveID: c.ID, Index: i, Err: err})
		}
	}
	return nil
}

// Clone returns a deep copy with points sorted by load.
func (c NormCurve) Clone() NormCurve {
	out := NormCurve{ID: c.ID, Type: c.Type}
	out.Points = SortedPoints(c.Points)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// SortedPoints returns a copy of points ordered by load. Equal loads keep
// their original relative order.
func SortedPoints(points []SamplePoint) []SamplePoint {
	out := make([]SamplePoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Load < out[j].Load })
	return out
}

// PointError locates an invalid sample point inside a curve.
type PointError struct {
	CurveID string
	Index   int
	Err     error
}

func (e *PointError) Error() string {
	return "curve " + e.CurveID + " point " + strconv.Itoa(e.Index) + ": " + e.Err.Error()
}

func (e *PointError) Unwrap() error { return e.Err }
