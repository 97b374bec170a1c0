package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/normscope/internal/adapters/http/api"
	service "github.com/okian/normscope/internal/app"
	"github.com/okian/normscope/internal/config"
	"github.com/okian/normscope/pkg/logger"
	"github.com/okian/normscope/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init(logger.WithWriter(io.Discard))
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.IngestWorkerCount = 2
	cfg.AnalysisWorkerCount = 2
	cfg.QueueSize = 100
	cfg.CacheSweepIntervalSec = 0
	return cfg
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			t.Setenv("NORMSCOPE_ADDR", ":8080")
			t.Setenv("NORMSCOPE_QUEUE_SIZE", "1000")
			t.Setenv("NORMSCOPE_INGEST_WORKER_COUNT", "4")

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.IngestWorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When testing invalid configuration", func() {
			t.Setenv("NORMSCOPE_QUEUE_SIZE", "0")

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When testing service creation", func() {
			svc := service.New(service.WithConfig(testConfig()))
			convey.So(svc, convey.ShouldNotBeNil)

			convey.Convey("Then HTTP server should be creatable", func() {
				server := api.NewServer(svc)
				convey.So(server, convey.ShouldNotBeNil)
			})

			convey.Convey("And stats should be available before start", func() {
				stats := svc.GetStats()
				convey.So(stats["started"], convey.ShouldEqual, false)
			})
		})

		convey.Convey("When testing metrics initialization", func() {
			convey.Convey("Then metrics manager should be creatable", func() {
				manager := metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))
				convey.So(manager, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics updater", func() {
			convey.Convey("Then it should return when the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startSystemMetricsUpdater(ctx)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing service metrics updater", func() {
			svc := service.New(service.WithConfig(testConfig()))

			convey.Convey("Then it should return when the context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				convey.So(func() {
					startServiceMetricsUpdater(ctx, svc)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When testing metric updates", func() {
			svc := service.New(service.WithConfig(testConfig()))

			convey.Convey("Then they should not panic", func() {
				convey.So(updateSystemMetrics, convey.ShouldNotPanic)
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a started service behind the full mux", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		svc := service.New(service.WithConfig(testConfig()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()

		srv := httptest.NewServer(newMux(ctx, svc))
		defer srv.Close()

		convey.Convey("When ingesting a curve and observations synchronously", func() {
			curves := `{"batch_id":"c-1","curves":[{"id":"H1","points":[{"load":10,"consumption":60},{"load":20,"consumption":50}]}]}`
			resp, err := http.Post(srv.URL+"/curves?wait=true", "application/json", strings.NewReader(curves))
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			rows := `{"batch_id":"r-1","rows":[{"key":{"route_number":"R1","trip_date":"2024-01-01","operator_id":"OP1"},` +
				`"sections":[{"name":"A-B","norm_id":"H1","load":40,"actual_consumption":49}]}]}`
			resp, err = http.Post(srv.URL+"/observations?wait=true", "application/json", strings.NewReader(rows))
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			convey.Convey("Then analysis and docs should be served", func() {
				resp, err := http.Get(srv.URL + "/analysis?segment=A-B")
				convey.So(err, convey.ShouldBeNil)
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(string(body), convey.ShouldContainSubstring, `"analyzed":1`)
				convey.So(string(body), convey.ShouldContainSubstring, `"status":"good"`)

				resp, err = http.Get(srv.URL + "/openapi.yaml")
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestRunShutsDownOnCancel(t *testing.T) {
	convey.Convey("Given run with a cancellable context", t, func() {
		cfg := testConfig()
		cfg.Addr = "127.0.0.1:0"
		cfg.PersistenceDir = t.TempDir()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- run(ctx, cfg, logger.Get()) }()

		convey.Convey("When the context is cancelled", func() {
			time.Sleep(100 * time.Millisecond)
			cancel()

			convey.Convey("Then run should return cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
				_, statErr := os.Stat(cfg.PersistenceDir)
				convey.So(statErr, convey.ShouldBeNil)
			})
		})
	})
}
