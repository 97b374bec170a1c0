package interpolation_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/normscope/internal/domain/interpolation"
	"github.com/okian/normscope/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func pts(xy ...float64) []model.SamplePoint {
	out := make([]model.SamplePoint, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		out = append(out, model.SamplePoint{Load: xy[i], Consumption: xy[i+1]})
	}
	return out
}

func TestBuildTrivial(t *testing.T) {
	Convey("Given trivial point lists", t, func() {
		Convey("When there are no points", func() {
			_, err := interpolation.Build(nil)
			So(errors.Is(err, interpolation.ErrEmptyPoints), ShouldBeTrue)
			So(model.IsValidation(err), ShouldBeTrue)
		})

		Convey("When a point is not finite", func() {
			_, err := interpolation.Build(pts(10, math.NaN()))
			So(errors.Is(err, interpolation.ErrNonFinite), ShouldBeTrue)
		})

		Convey("When there is a single point", func() {
			m, err := interpolation.Build(pts(12, 40))
			So(err, ShouldBeNil)
			So(m.Kind(), ShouldEqual, interpolation.KindConstant)
			So(m.Eval(1), ShouldEqual, 40)
			So(m.Eval(1000), ShouldEqual, 40)
			So(m.Fallback(), ShouldBeNil)
		})

		Convey("When two loads are indistinguishable", func() {
			m, err := interpolation.Build(pts(20, 40, 20+1e-12, 50))
			So(err, ShouldBeNil)
			So(m.Kind(), ShouldEqual, interpolation.KindConstant)
			So(m.Eval(20), ShouldAlmostEqual, 45, 1e-12)
		})

		Convey("When every load of a larger curve is identical", func() {
			m, err := interpolation.Build(pts(7, 10, 7, 20, 7, 30))
			So(err, ShouldBeNil)
			So(m.Kind(), ShouldEqual, interpolation.KindConstant)
			So(m.Eval(3), ShouldAlmostEqual, 20, 1e-12)
		})
	})
}

func TestBuildTwoPoints(t *testing.T) {
	Convey("Given curves with two distinct loads", t, func() {
		cases := [][]model.SamplePoint{
			pts(10, 45, 25, 30),
			pts(3, 100, 80, 12.5),
			pts(50, 20, 0.5, 19),
		}

		Convey("Then each sample is reproduced at its own load", func() {
			for _, c := range cases {
				m, err := interpolation.Build(c)
				So(err, ShouldBeNil)
				So(m.Kind(), ShouldEqual, interpolation.KindHyperbolic)
				for _, p := range c {
					So(m.Eval(p.Load), ShouldAlmostEqual, p.Consumption, 1e-9)
				}
			}
		})
	})
}

func TestBuildLeastSquares(t *testing.T) {
	Convey("Given points lying exactly on a/load + b", t, func() {
		const a, b = 120.0, 3.0
		loads := []float64{5, 10, 15, 40, 7.5}
		var in []model.SamplePoint
		for _, l := range loads {
			in = append(in, model.SamplePoint{Load: l, Consumption: a/l + b})
		}

		m, err := interpolation.Build(in)
		So(err, ShouldBeNil)

		Convey("Then least squares recovers the coefficients", func() {
			So(m.Kind(), ShouldEqual, interpolation.KindHyperbolic)
			ga, gb := m.Coefficients()
			So(ga, ShouldAlmostEqual, a, 1e-6)
			So(gb, ShouldAlmostEqual, b, 1e-6)
			So(m.Fallback(), ShouldBeNil)
		})

		Convey("Then every sample is reproduced", func() {
			for _, p := range in {
				So(m.Eval(p.Load), ShouldAlmostEqual, p.Consumption, 1e-6)
			}
		})

		Convey("Then non-positive loads are clamped to the smallest sample", func() {
			So(m.Eval(0), ShouldAlmostEqual, m.Eval(5), 1e-12)
			So(m.Eval(-3), ShouldAlmostEqual, m.Eval(5), 1e-12)
		})

		Convey("Then the result does not depend on input order", func() {
			rev := make([]model.SamplePoint, len(in))
			for i := range in {
				rev[len(in)-1-i] = in[i]
			}
			m2, err := interpolation.Build(rev)
			So(err, ShouldBeNil)
			for _, l := range []float64{1, 6, 12, 33, 90} {
				So(m2.Eval(l), ShouldEqual, m.Eval(l))
			}
		})
	})
}

func TestBuildFallback(t *testing.T) {
	Convey("Given curve N1 with (10,45),(20,50),(30,55)", t, func() {
		in := pts(10, 45, 20, 50, 30, 55)
		m, err := interpolation.Build(in)
		So(err, ShouldBeNil)

		Convey("Then the linear samples do not fit a hyperbola and the fallback is used", func() {
			So(m.Kind(), ShouldEqual, interpolation.KindPiecewise)
			var de *interpolation.DegenerateError
			So(errors.As(m.Fallback(), &de), ShouldBeTrue)
			So(de.Reason, ShouldEqual, interpolation.ReasonPoorFit)
			So(errors.Is(m.Fallback(), model.ErrDegenerate), ShouldBeTrue)
		})

		Convey("Then samples are reproduced exactly", func() {
			So(m.Eval(10), ShouldEqual, 45)
			So(m.Eval(20), ShouldEqual, 50)
			So(m.Eval(30), ShouldEqual, 55)
		})

		Convey("Then values between samples are interpolated", func() {
			v := m.Eval(15)
			So(v, ShouldBeBetweenOrEqual, 45, 50)
			So(v, ShouldAlmostEqual, 47.5, 1e-12)
		})

		Convey("Then loads outside the sampled range are clamped", func() {
			So(m.Eval(1), ShouldEqual, 45)
			So(m.Eval(-1), ShouldEqual, 45)
			So(m.Eval(500), ShouldEqual, 55)
			So(m.Eval(math.NaN()), ShouldEqual, 45)
		})

		Convey("When the residual check is disabled", func() {
			m, err := interpolation.New(interpolation.WithResidualTolerance(0)).Build(in)
			So(err, ShouldBeNil)
			So(m.Kind(), ShouldEqual, interpolation.KindHyperbolic)
			So(m.Fallback(), ShouldBeNil)
		})
	})

	Convey("Given a curve with a zero load", t, func() {
		m, err := interpolation.Build(pts(0, 60, 10, 45, 20, 40))
		So(err, ShouldBeNil)

		Convey("Then the piecewise fallback is used", func() {
			So(m.Kind(), ShouldEqual, interpolation.KindPiecewise)
			var de *interpolation.DegenerateError
			So(errors.As(m.Fallback(), &de), ShouldBeTrue)
			So(de.Reason, ShouldEqual, interpolation.ReasonZeroLoad)
			So(m.Eval(5), ShouldAlmostEqual, 52.5, 1e-12)
		})
	})

	Convey("Given a two-point curve with a zero load", t, func() {
		m, err := interpolation.Build(pts(0, 10, 10, 20))
		So(err, ShouldBeNil)
		So(m.Kind(), ShouldEqual, interpolation.KindPiecewise)
		So(m.Eval(5), ShouldAlmostEqual, 15, 1e-12)
	})

	Convey("Given repeated loads on the fallback path", t, func() {
		m, err := interpolation.Build(pts(10, 40, 10, 50, 20, 60, 30, 61))
		So(err, ShouldBeNil)
		So(m.Kind(), ShouldEqual, interpolation.KindPiecewise)

		Convey("Then repeated samples are averaged", func() {
			So(m.Eval(10), ShouldAlmostEqual, 45, 1e-12)
		})
	})
}
