package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then every metric is registered on the given registry", func() {
				So(manager, ShouldNotBeNil)
				manager.curvesTotal.Set(3)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and labels follow the options", func() {
				manager.curvesTotal.Set(1)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_test_prefix_curves_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When options are empty", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithMetricPrefix(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "normscope")
				So(manager.subsystem, ShouldEqual, "core")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When curve store metrics are recorded", func() {
			before := testutil.ToFloat64(globalManager.functionCacheHits)
			So(func() {
				UpdateCurvesTotal(4)
				RecordCurveUpsert("added")
				RecordCurveUpsert("rejected")
				RecordFunctionCacheHit()
				RecordFunctionCacheMiss()
				RecordFunctionBuild("hyperbolic", 0.3)
				RecordDegenerateModel("poor_fit")
				UpdateCurveHealth(3, 1, 1)
			}, ShouldNotPanic)

			Convey("Then the values are visible", func() {
				So(testutil.ToFloat64(globalManager.curvesTotal), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.functionCacheHits), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.curveValidateState.WithLabelValues("broken")), ShouldEqual, 1)
			})
		})

		Convey("When ingestion metrics are recorded", func() {
			kept := testutil.ToFloat64(globalManager.rowsKept)
			So(func() {
				RecordBatchReceived("rows")
				RecordBatchDuplicate()
				RecordRowsResolved(3, 2, 1)
				RecordMergeWarnings(2)
				UpdateCanonicalRoutes(3)
				RecordRouteSnapshotRebuild(1.5)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.rowsKept), ShouldEqual, kept+3)
		})

		Convey("When analysis metrics are recorded", func() {
			So(func() {
				RecordAnalysis("computed")
				RecordAnalysis("cache_hit")
				RecordAnalysisLatency(2)
				RecordRecordsSkipped("norm_not_found", 2)
				RecordRecordsClassified("good", 5)
				UpdateResultCacheSize(7)
				RecordResultCacheEvictions(1)
				RecordPersistenceOp("save_result", "ok")
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.resultCacheSize), ShouldEqual, 7)
		})

		Convey("When queue, worker, HTTP and system metrics are recorded", func() {
			So(func() {
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(3)
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(1)
				UpdateWorkerIdleCount(3)
				RecordWorkerProcessingLatency(4)
				RecordWorkerError()
				RecordHTTPRequest("/analysis", "GET", "200")
				RecordHTTPRequestDuration("/analysis", "GET", "200", 1.2)
				RecordErrorByComponent("api", "validation")
				RecordErrorByEndpoint("/analysis", "GET", "validation")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.4)
			}, ShouldNotPanic)
		})

		Convey("When the registry is gathered", func() {
			RecordAnalysis("computed")
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			found := false
			for _, f := range families {
				if strings.HasPrefix(f.GetName(), "normscope_core_analyses_total") {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given metrics recorded from many goroutines", t, func() {
		before := testutil.ToFloat64(globalManager.queueEnqueueRate)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordQueueEnqueue()
					UpdateQueueSize(j)
					RecordHTTPRequest("/test", "GET", "200")
				}
			}()
		}
		wg.Wait()

		Convey("Then no update is lost", func() {
			So(testutil.ToFloat64(globalManager.queueEnqueueRate), ShouldEqual, before+1000)
		})
	})
}
