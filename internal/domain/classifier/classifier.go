// Package classifier maps signed deviation percentages to ordered statuses.
package classifier

import (
	"fmt"
	"math"

	"github.com/okian/normscope/internal/domain/model"
)

// Default thresholds, in absolute percent.
const (
	DefaultExcellent  = 5.0
	DefaultGood       = 10.0
	DefaultAcceptable = 20.0
	DefaultPoor       = 30.0
)

// Thresholds are the upper bounds (inclusive) of the first four statuses.
// Anything above Poor is Critical.
type Thresholds struct {
	Excellent  float64 `json:"excellent" koanf:"excellent"`
	Good       float64 `json:"good" koanf:"good"`
	Acceptable float64 `json:"acceptable" koanf:"acceptable"`
	Poor       float64 `json:"poor" koanf:"poor"`
}

// DefaultThresholds returns 5/10/20/30.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent:  DefaultExcellent,
		Good:       DefaultGood,
		Acceptable: DefaultAcceptable,
		Poor:       DefaultPoor,
	}
}

// Validate requires finite, positive, strictly ascending thresholds.
func (t Thresholds) Validate() error {
	vals := []float64{t.Excellent, t.Good, t.Acceptable, t.Poor}
	prev := 0.0
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= prev {
			return model.WrapKind("classifier.thresholds", ErrInvalidThresholds,
				fmt.Errorf("threshold %d (%g) must be finite and greater than %g", i, v, prev))
		}
		prev = v
	}
	return nil
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThresholds replaces the default threshold set.
func WithThresholds(t Thresholds) Option {
	return func(c *Classifier) {
		c.thresholds = t
	}
}

// WithTypeThresholds sets per-norm-type overrides used by ClassifyFor.
func WithTypeThresholds(byType map[string]Thresholds) Option {
	return func(c *Classifier) {
		c.byType = make(map[string]Thresholds, len(byType))
		for k, v := range byType {
			c.byType[k] = v
		}
	}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
	byType     map[string]Thresholds
}

// New builds a classifier, validating every configured threshold set.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.thresholds.Validate(); err != nil {
		return nil, err
	}
	for typ, t := range c.byType {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("norm type %q: %w", typ, err)
		}
	}
	return c, nil
}

// Default returns a classifier with the default thresholds.
func Default() *Classifier {
	c, _ := New()
	return c
}

// Thresholds returns the default threshold set in use.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Classify maps a signed percent to a status. A value exactly on a
// threshold belongs to the lower-severity bucket.
func (c *Classifier) Classify(percent float64) model.Status {
	return classify(c.thresholds, percent)
}

// ClassifyFor uses the override for normType when one is configured.
func (c *Classifier) ClassifyFor(normType string, percent float64) model.Status {
	if t, ok := c.byType[normType]; ok {
		return classify(t, percent)
	}
	return classify(c.thresholds, percent)
}

func classify(t Thresholds, percent float64) model.Status {
	abs := math.Abs(percent)
	switch {
	case math.IsNaN(abs):
		return model.StatusCritical
	case abs <= t.Excellent:
		return model.StatusExcellent
	case abs <= t.Good:
		return model.StatusGood
	case abs <= t.Acceptable:
		return model.StatusAcceptable
	case abs <= t.Poor:
		return model.StatusPoor
	default:
		return model.StatusCritical
	}
}

// Severity returns the rank of a status, 0 for Excellent up to 4 for Critical.
func Severity(s model.Status) int {
	return int(s)
}

// RequiresAction reports whether the status calls for corrective action.
func RequiresAction(s model.Status) bool {
	return s >= model.StatusPoor
}

// Summary is the outcome of classifying a batch of percentages.
type Summary struct {
	Histogram      map[model.Status]int
	Worst          model.Status
	ActionFraction float64
	Count          int
}

// Batch classifies every percent and summarizes the result.
func (c *Classifier) Batch(percents []float64) Summary {
	statuses := make([]model.Status, len(percents))
	for i, p := range percents {
		statuses[i] = c.Classify(p)
	}
	return Summarize(statuses)
}

// Summarize builds a Summary from already classified statuses.
func Summarize(statuses []model.Status) Summary {
	s := Summary{Histogram: make(map[model.Status]int), Count: len(statuses)}
	action := 0
	for _, st := range statuses {
		s.Histogram[st]++
		if st > s.Worst {
			s.Worst = st
		}
		if RequiresAction(st) {
			action++
		}
	}
	if len(statuses) > 0 {
		s.ActionFraction = float64(action) / float64(len(statuses))
	}
	return s
}
