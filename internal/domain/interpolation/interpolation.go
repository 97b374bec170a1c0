// Package interpolation turns the sample points of a norm curve into a
// continuous load to consumption function.
//
// The preferred shape is the hyperbola consumption = a/load + b. One point
// gives a constant, two points are solved in closed form, three or more are
// fitted by least squares. When the hyperbola cannot be trusted the model
// falls back to piecewise-linear interpolation over the sorted samples and
// records why in a *DegenerateError.
package interpolation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/normscope/internal/domain/model"
)

const (
	// DefaultResidualTolerance is the largest relative residual a hyperbolic
	// fit may leave on any sample before the linear fallback is used.
	DefaultResidualTolerance = 0.01
	// DefaultEpsilon separates numerically indistinguishable values.
	DefaultEpsilon = 1e-9
)

// Kind identifies the shape of a built model.
type Kind int

// Model shapes.
const (
	KindConstant Kind = iota
	KindHyperbolic
	KindPiecewise
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindHyperbolic:
		return "hyperbolic"
	case KindPiecewise:
		return "piecewise_linear"
	default:
		return "unknown"
	}
}

// Model is an immutable load to consumption function. It is safe for
// concurrent use.
type Model struct {
	kind     Kind
	a, b     float64
	constant float64
	points   []model.SamplePoint
	minLoad  float64
	fallback *DegenerateError
}

// Kind returns the shape of the model.
func (m *Model) Kind() Kind { return m.kind }

// Coefficients returns a and b of the hyperbolic form. Only meaningful for
// KindHyperbolic.
func (m *Model) Coefficients() (a, b float64) { return m.a, m.b }

// Fallback returns why the hyperbolic fit was abandoned, or nil.
func (m *Model) Fallback() error {
	if m.fallback == nil {
		return nil
	}
	return m.fallback
}

// Eval returns the expected consumption at load. It never fails: piecewise
// models clamp outside the sampled range and hyperbolic models replace a
// non-positive load with the smallest sampled load.
func (m *Model) Eval(load float64) float64 {
	switch m.kind {
	case KindConstant:
		return m.constant
	case KindHyperbolic:
		if !(load > 0) {
			load = m.minLoad
		}
		return m.a/load + m.b
	default:
		return m.piecewise(load)
	}
}

func (m *Model) piecewise(load float64) float64 {
	pts := m.points
	if math.IsNaN(load) || load <= pts[0].Load {
		return pts[0].Consumption
	}
	last := pts[len(pts)-1]
	if load >= last.Load {
		return last.Consumption
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Load >= load })
	hi, lo := pts[i], pts[i-1]
	if hi.Load == load {
		return hi.Consumption
	}
	t := (load - lo.Load) / (hi.Load - lo.Load)
	return lo.Consumption + t*(hi.Consumption-lo.Consumption)
}

func (m *Model) String() string {
	switch m.kind {
	case KindConstant:
		return fmt.Sprintf("constant(%g)", m.constant)
	case KindHyperbolic:
		return fmt.Sprintf("hyperbolic(a=%g, b=%g)", m.a, m.b)
	default:
		return fmt.Sprintf("piecewise_linear(%d points)", len(m.points))
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithResidualTolerance sets the relative residual above which a hyperbolic
// fit is rejected. Zero or a negative value disables the check.
func WithResidualTolerance(tol float64) Option {
	return func(e *Engine) {
		e.residualTolerance = tol
	}
}

// WithEpsilon sets the tolerance used to detect coincident loads and a
// singular system.
func WithEpsilon(eps float64) Option {
	return func(e *Engine) {
		if eps > 0 {
			e.epsilon = eps
		}
	}
}

// Engine builds models. It holds only configuration.
type Engine struct {
	residualTolerance float64
	epsilon           float64
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		residualTolerance: DefaultResidualTolerance,
		epsilon:           DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = New()

// Build builds a model with the default engine.
func Build(points []model.SamplePoint) (*Model, error) {
	return defaultEngine.Build(points)
}

// Build derives a model from points. The input is not modified and its
// order does not matter.
func (e *Engine) Build(points []model.SamplePoint) (*Model, error) {
	if len(points) == 0 {
		return nil, ErrEmptyPoints
	}
	for i, p := range points {
		if !isFinite(p.Load) || !isFinite(p.Consumption) {
			return nil, fmt.Errorf("%w: point %d (%g, %g)", ErrNonFinite, i, p.Load, p.Consumption)
		}
	}
	pts := model.SortedPoints(points)

	if len(pts) == 1 || e.coincident(pts[0].Load, pts[len(pts)-1].Load) {
		return constantOf(pts), nil
	}
	if pts[0].Load == 0 {
		return e.linear(pts, &DegenerateError{Reason: ReasonZeroLoad}), nil
	}
	if len(pts) == 2 {
		return e.twoPoint(pts), nil
	}
	return e.leastSquares(pts), nil
}

func (e *Engine) twoPoint(pts []model.SamplePoint) *Model {
	p, q := pts[0], pts[1]
	a := (p.Consumption - q.Consumption) / (1/p.Load - 1/q.Load)
	b := p.Consumption - a/p.Load
	return &Model{kind: KindHyperbolic, a: a, b: b, minLoad: p.Load, points: pts}
}

// leastSquares solves the normal equations of consumption = a*x + b with
// x = 1/load:
//
//	| Σx²  Σx | |a|   | Σxy |
//	| Σx   n  | |b| = | Σy  |
func (e *Engine) leastSquares(pts []model.SamplePoint) *Model {
	n := float64(len(pts))
	x := make([]float64, len(pts))
	y := make([]float64, len(pts))
	for i, p := range pts {
		x[i] = 1 / p.Load
		y[i] = p.Consumption
	}
	sx, sy := floats.Sum(x), floats.Sum(y)
	sxx, sxy := floats.Dot(x, x), floats.Dot(x, y)

	lhs := mat.NewDense(2, 2, []float64{sxx, sx, sx, n})
	det := mat.Det(lhs)
	if math.Abs(det) <= e.epsilon*n*sxx {
		return e.linear(pts, &DegenerateError{Reason: ReasonSingular, Det: det})
	}
	var coef mat.VecDense
	if err := coef.SolveVec(lhs, mat.NewVecDense(2, []float64{sxy, sy})); err != nil {
		return e.linear(pts, &DegenerateError{Reason: ReasonSingular, Det: det})
	}
	a, b := coef.AtVec(0), coef.AtVec(1)
	if !isFinite(a) || !isFinite(b) {
		return e.linear(pts, &DegenerateError{Reason: ReasonSingular, Det: det})
	}

	if e.residualTolerance > 0 {
		worst := 0.0
		for _, p := range pts {
			r := math.Abs(a/p.Load+b-p.Consumption) / math.Max(math.Abs(p.Consumption), e.epsilon)
			worst = math.Max(worst, r)
		}
		if worst > e.residualTolerance {
			return e.linear(pts, &DegenerateError{Reason: ReasonPoorFit, Det: det, Residual: worst})
		}
	}
	return &Model{kind: KindHyperbolic, a: a, b: b, minLoad: pts[0].Load, points: pts}
}

// linear builds the piecewise fallback. Samples sharing a load are
// collapsed into their mean consumption.
func (e *Engine) linear(pts []model.SamplePoint, reason *DegenerateError) *Model {
	out := make([]model.SamplePoint, 0, len(pts))
	for i := 0; i < len(pts); {
		j, sum := i, 0.0
		for j < len(pts) && e.coincident(pts[i].Load, pts[j].Load) {
			sum += pts[j].Consumption
			j++
		}
		out = append(out, model.SamplePoint{Load: pts[i].Load, Consumption: sum / float64(j-i)})
		i = j
	}
	if len(out) == 1 {
		m := constantOf(pts)
		m.fallback = reason
		return m
	}
	return &Model{kind: KindPiecewise, points: out, minLoad: out[0].Load, fallback: reason}
}

func constantOf(pts []model.SamplePoint) *Model {
	sum := 0.0
	for _, p := range pts {
		sum += p.Consumption
	}
	return &Model{kind: KindConstant, constant: sum / float64(len(pts)), points: pts, minLoad: pts[0].Load}
}

func (e *Engine) coincident(a, b float64) bool {
	return math.Abs(a-b) <= e.epsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
