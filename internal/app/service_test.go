package service_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	service "github.com/okian/normscope/internal/app"
	"github.com/okian/normscope/internal/config"
	"github.com/okian/normscope/internal/domain/model"
	"github.com/okian/normscope/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.IngestWorkerCount = 2
	cfg.AnalysisWorkerCount = 2
	cfg.QueueSize = 100
	cfg.CacheSweepIntervalSec = 0
	return cfg
}

// hyperbola returns a two-point curve with consumption = 200/load + 40.
func hyperbola(id string) model.NormCurve {
	return model.NormCurve{
		ID:     id,
		Type:   "freight",
		Points: []model.SamplePoint{{Load: 10, Consumption: 60}, {Load: 20, Consumption: 50}},
	}
}

func route(number string, sections ...model.SectionEntry) model.ObservationRow {
	return model.ObservationRow{
		Key:        model.NaturalKey{RouteNumber: number, TripDate: "2024-03-01", OperatorID: "7"},
		Sections:   sections,
		Provenance: model.Provenance{Source: "doc-1", Timestamp: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
}

func section(name, norm string, load, actual float64) model.SectionEntry {
	return model.SectionEntry{Name: name, NormID: norm, Distance: 12, Load: load, ActualConsumption: actual}
}

func startService(cfg *config.Config) *service.Service {
	svc := service.New(service.WithConfig(cfg))
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithConfig(testConfig()))
		ctx := context.Background()

		Convey("When calling it before Start", func() {
			_, err := svc.Analyze(ctx, model.AnalysisRequest{Segment: "A-B"})

			Convey("Then it should report that it is not started", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Size(), ShouldEqual, int64(0))
			})
		})

		Convey("When starting and stopping the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			started := svc.GetStats()
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it should report its state", func() {
				So(started["started"], ShouldEqual, true)
				So(started["workerCount"], ShouldEqual, 2)
				So(started["curves"], ShouldEqual, 0)
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Stop(ctx), ShouldBeNil)
			})

			Convey("Then submissions are refused", func() {
				_, err := svc.Submit(ctx, model.Batch{Curves: []model.NormCurve{hyperbola("H1")}}, true)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When the configuration is invalid", func() {
			cfg := testConfig()
			cfg.ThresholdGood = 1
			err := service.New(service.WithConfig(cfg)).Start(ctx)

			Convey("Then Start should fail", func() {
				So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := startService(testConfig())
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When a curve batch is applied synchronously", func() {
			sub, err := svc.Submit(ctx, model.Batch{
				ID:     "curves-1",
				Curves: []model.NormCurve{hyperbola("H1"), {ID: "BAD", Points: []model.SamplePoint{{Load: -1, Consumption: 2}}}},
			}, true)

			Convey("Then the report lists every curve outcome", func() {
				So(err, ShouldBeNil)
				So(sub.Status, ShouldEqual, model.SubmitApplied)
				So(sub.Report.Curves["H1"], ShouldEqual, model.CurveAdded)
				So(sub.Report.Curves["BAD"], ShouldEqual, model.CurveRejected)
				So(sub.Report.RejectedCurves, ShouldContainKey, "BAD")
			})

			Convey("Then the curve can be evaluated", func() {
				v, err := svc.Evaluate(ctx, "H1", 40)
				So(err, ShouldBeNil)
				So(v, ShouldAlmostEqual, 45, 1e-9)

				_, err = svc.Evaluate(ctx, "H1", 0)
				So(model.IsValidation(err), ShouldBeTrue)

				_, err = svc.Evaluate(ctx, "NOPE", 10)
				So(model.IsNotFound(err), ShouldBeTrue)

				c, err := svc.Curve(ctx, "H1")
				So(err, ShouldBeNil)
				So(c.Type, ShouldEqual, "freight")
				_, err = svc.Curve(ctx, "NOPE")
				So(model.IsNotFound(err), ShouldBeTrue)
			})

			Convey("Then validation lists it as healthy", func() {
				report, err := svc.ValidateCurves(ctx)
				So(err, ShouldBeNil)
				So(report.Healthy, ShouldContain, "H1")
			})

			Convey("And the same batch id is submitted again", func() {
				sub, err := svc.Submit(ctx, model.Batch{ID: "curves-1", Curves: []model.NormCurve{hyperbola("H1")}}, true)

				Convey("Then it is reported as a duplicate", func() {
					So(err, ShouldBeNil)
					So(sub.Status, ShouldEqual, model.SubmitDuplicate)
					So(sub.Report, ShouldBeNil)
				})
			})
		})

		Convey("When a batch has no id", func() {
			sub, err := svc.Submit(ctx, model.Batch{Rows: []model.ObservationRow{route("1", section("A-B", "H1", 20, 55))}}, true)

			Convey("Then one is assigned", func() {
				So(err, ShouldBeNil)
				So(sub.BatchID, ShouldNotBeBlank)
				So(sub.Report.RowsKept, ShouldEqual, 1)
				So(sub.Report.CanonicalRoutes, ShouldEqual, 1)
			})
		})

		Convey("When a batch is empty", func() {
			_, err := svc.Submit(ctx, model.Batch{ID: "empty"}, false)

			Convey("Then it is rejected as invalid", func() {
				So(model.IsValidation(err), ShouldBeTrue)
			})
		})

		Convey("When a batch is queued", func() {
			sub, err := svc.Submit(ctx, model.Batch{
				ID:     "async-1",
				Curves: []model.NormCurve{hyperbola("H1")},
				Rows:   []model.ObservationRow{route("9", section("A-B", "H1", 20, 50))},
			}, false)
			So(err, ShouldBeNil)
			So(sub.Status, ShouldEqual, model.SubmitQueued)

			Convey("Then the workers apply it", func() {
				deadline := time.Now().Add(2 * time.Second)
				var routes []model.CanonicalRoute
				for time.Now().Before(deadline) {
					routes, err = svc.Routes(ctx, "A-B", false, 0)
					if len(routes) == 1 {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				So(err, ShouldBeNil)
				So(routes, ShouldHaveLength, 1)
				So(routes[0].Key.RouteNumber, ShouldEqual, "9")
			})
		})
	})
}

func TestService_Analyze(t *testing.T) {
	Convey("Given a service with curves and routes", t, func() {
		ctx := context.Background()
		svc := startService(testConfig())
		defer func() { _ = svc.Stop(ctx) }()

		_, err := svc.Submit(ctx, model.Batch{
			ID:     "seed",
			Curves: []model.NormCurve{hyperbola("H1")},
			Rows: []model.ObservationRow{
				route("1", section("A-B", "H1", 20, 55)),
				route("2", section("A-B", "H1", 40, 45)),
				route("3", section("A-B", "H1", 20, 50), section("B-C", "H1", 40, 72)),
				route("4", section("A-B", "", 20, 50)),
			},
		}, true)
		So(err, ShouldBeNil)

		Convey("When analyzing a segment", func() {
			res, err := svc.Analyze(ctx, model.AnalysisRequest{Segment: "A-B"})

			Convey("Then every record is classified against its norm", func() {
				So(err, ShouldBeNil)
				So(res.Total, ShouldEqual, 4)
				So(res.Analyzed, ShouldEqual, 3)
				So(res.SkipReasons[model.SkipNoNorm], ShouldEqual, 1)
				So(res.Records[0].Percent, ShouldAlmostEqual, 10, 1e-9)
				So(res.Records[0].Status, ShouldEqual, model.StatusGood)
				So(res.Stats.Max, ShouldAlmostEqual, 10, 1e-9)
			})

			Convey("Then routes can be listed with the single-section filter", func() {
				routes, err := svc.Routes(ctx, "A-B", true, 0)
				So(err, ShouldBeNil)
				So(routes, ShouldHaveLength, 3)
				routes, err = svc.Routes(ctx, "", false, 2)
				So(err, ShouldBeNil)
				So(routes, ShouldHaveLength, 2)
			})

			Convey("And the curve is replaced", func() {
				before := res.Generation
				_, err := svc.Submit(ctx, model.Batch{ID: "replace", Curves: []model.NormCurve{{
					ID:     "H1",
					Type:   "freight",
					Points: []model.SamplePoint{{Load: 10, Consumption: 55}, {Load: 20, Consumption: 50}},
				}}}, true)
				So(err, ShouldBeNil)
				again, err := svc.Analyze(ctx, model.AnalysisRequest{Segment: "A-B"})

				Convey("Then the next analysis uses the new data", func() {
					So(err, ShouldBeNil)
					So(again.Generation, ShouldNotEqual, before)
					So(again.Records[0].Expected, ShouldAlmostEqual, 50, 1e-9)
					So(again.Records[1].Expected, ShouldAlmostEqual, 47.5, 1e-9)
				})
			})
		})

		Convey("When analyzing several segments at once", func() {
			items, err := svc.AnalyzeBatch(ctx, []model.AnalysisRequest{
				{Segment: "A-B"},
				{Segment: "B-C"},
				{Segment: ""},
			})

			Convey("Then each request has its own outcome", func() {
				So(err, ShouldBeNil)
				So(items, ShouldHaveLength, 3)
				So(items[0].Result.Total, ShouldEqual, 4)
				So(items[1].Result.Records[0].Percent, ShouldAlmostEqual, 60, 1e-9)
				So(items[1].Result.Records[0].Status, ShouldEqual, model.StatusCritical)
				So(items[2].Err, ShouldNotBeNil)
			})
		})

		Convey("When the batch is empty", func() {
			_, err := svc.AnalyzeBatch(ctx, nil)

			Convey("Then it is rejected as invalid", func() {
				So(model.IsValidation(err), ShouldBeTrue)
			})
		})
	})
}
