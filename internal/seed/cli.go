package seed

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/normscope/pkg/logger"
)

// SetupLogging sends logs to stdout and, when logFile is set, to that file.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
		closer = file
	}
	if err := logger.Init(logger.WithWriter(w)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closer, nil
}

// ShowHelp prints usage information for the seed tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`normscope seed
==============

Generates synthetic norm curves and observation rows, submits them to a
running normscope service and checks that per-segment analysis reports
exactly the deviations that were planted.

Usage:
  go run ./cmd/seed [options]

Options:
  -url string          Base URL of the service (default "http://localhost:9080")
  -curves int          Number of norm curves (default 20)
  -routes int          Number of distinct routes (default 2000)
  -max-sections int    Maximum sections per route (default 4)
  -segments int        Size of the segment name pool (default 30)
  -duplicates float    Share of routes sent twice with different provenance (default 0.1)
  -resubmit float      Share of batches re-sent with the same batch id (default 0.05)
  -batch int           Rows per batch (default 100)
  -workers int         Concurrent submitters (default CPU cores * 2)
  -seed uint           Generator seed (default 1)
  -timeout duration    HTTP request timeout (default 30s)
  -wait duration       How long to wait for queued batches (default 2m)
  -catalog string      Write the generated curves as a YAML catalog
  -log string          Also write logs to this file
  -verbose             Log every batch
  -help                Show this help message

Examples:
  go run ./cmd/seed -routes 50000 -workers 16
  go run ./cmd/seed -catalog curves.yaml -routes 200
`)
}
