package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/normscope/internal/seed"
	"github.com/okian/normscope/pkg/logger"
)

const (
	defaultWorkers = 2 // multiplier for runtime.NumCPU()
	defaultRunTime = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		curves      = flag.Int("curves", seed.DefaultCurves, "Number of norm curves")
		routes      = flag.Int("routes", seed.DefaultRoutes, "Number of distinct routes")
		maxSections = flag.Int("max-sections", seed.DefaultMaxSections, "Maximum sections per route")
		segments    = flag.Int("segments", seed.DefaultSegments, "Size of the segment name pool")
		duplicates  = flag.Float64("duplicates", seed.DefaultDuplicateRate, "Share of routes sent twice")
		resubmit    = flag.Float64("resubmit", seed.DefaultResubmitRate, "Share of batches re-sent with the same id")
		batchSize   = flag.Int("batch", seed.DefaultBatchSize, "Rows per batch")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent submitters")
		seedValue   = flag.Uint64("seed", 1, "Generator seed")
		timeout     = flag.Duration("timeout", seed.DefaultTimeout, "HTTP request timeout")
		wait        = flag.Duration("wait", seed.DefaultProcessWait, "How long to wait for queued batches")
		catalogFile = flag.String("catalog", "", "Write the generated curves as a YAML catalog")
		logFile     = flag.String("log", "", "Also write logs to this file")
		verbose     = flag.Bool("verbose", false, "Log every batch")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		seed.ShowHelp()
		return
	}

	closer, err := seed.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTime)
	defer cancel()

	cfg := &seed.Config{
		BaseURL:       *baseURL,
		Curves:        *curves,
		Routes:        *routes,
		MaxSections:   *maxSections,
		Segments:      *segments,
		DuplicateRate: *duplicates,
		ResubmitRate:  *resubmit,
		BatchSize:     *batchSize,
		Workers:       *workers,
		Seed:          *seedValue,
		Timeout:       *timeout,
		ProcessWait:   *wait,
		PollInterval:  seed.DefaultPollInterval,
		CatalogFile:   *catalogFile,
		Verbose:       *verbose,
	}

	if _, err := seed.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "seed run failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
