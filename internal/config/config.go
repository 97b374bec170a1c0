// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New returns a Config filled with defaults.
// - Load layers defaults, an optional YAML file and NORMSCOPE_* env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/normscope/internal/domain/classifier"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory ingestion queue.
	QueueSize int `koanf:"queue_size"`

	// IngestWorkerCount sets the number of ingestion workers.
	IngestWorkerCount int `koanf:"ingest_worker_count"`

	// AnalysisWorkerCount bounds parallel requests of a batch analysis.
	AnalysisWorkerCount int `koanf:"analysis_worker_count"`

	// BatchDedupeSize sets how many batch ids are remembered for idempotency.
	BatchDedupeSize int `koanf:"batch_dedupe_size"`

	// ResultCacheMaxAgeSec bounds how long an analysis result is reused.
	// Zero keeps results until the data changes.
	ResultCacheMaxAgeSec int `koanf:"result_cache_max_age_sec"`

	// CacheSweepIntervalSec sets how often expired results are dropped.
	CacheSweepIntervalSec int `koanf:"cache_sweep_interval_sec"`

	// Deviation thresholds in percent, strictly ascending.
	ThresholdExcellent  float64 `koanf:"threshold_excellent"`
	ThresholdGood       float64 `koanf:"threshold_good"`
	ThresholdAcceptable float64 `koanf:"threshold_acceptable"`
	ThresholdPoor       float64 `koanf:"threshold_poor"`

	// TypeThresholds overrides the thresholds per norm curve type.
	TypeThresholds map[string]classifier.Thresholds `koanf:"type_thresholds"`

	// FitResidualTolerance is the largest relative residual a hyperbolic
	// fit may leave before the linear fallback is used. Zero disables the check.
	FitResidualTolerance float64 `koanf:"fit_residual_tolerance"`

	// PersistenceDir enables BadgerDB persistence when set.
	PersistenceDir string `koanf:"persistence_dir"`

	// ResultTTLSec bounds how long persisted analysis results live.
	ResultTTLSec int `koanf:"result_ttl_sec"`

	// CurvesFile is a YAML curve catalog loaded at startup.
	CurvesFile string `koanf:"curves_file"`

	// MaxRoutesLimit caps GET /routes?limit.
	MaxRoutesLimit int `koanf:"max_routes_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	t := classifier.DefaultThresholds()
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		QueueSize:             10_000,
		IngestWorkerCount:     runtime.NumCPU(),
		AnalysisWorkerCount:   runtime.NumCPU(),
		BatchDedupeSize:       50_000,
		ResultCacheMaxAgeSec:  300,
		CacheSweepIntervalSec: 60,
		ThresholdExcellent:    t.Excellent,
		ThresholdGood:         t.Good,
		ThresholdAcceptable:   t.Acceptable,
		ThresholdPoor:         t.Poor,
		FitResidualTolerance:  0.01,
		ResultTTLSec:          900,
		MaxRoutesLimit:        1000,
	}
}

// Thresholds returns the default classifier thresholds.
func (c *Config) Thresholds() classifier.Thresholds {
	return classifier.Thresholds{
		Excellent:  c.ThresholdExcellent,
		Good:       c.ThresholdGood,
		Acceptable: c.ThresholdAcceptable,
		Poor:       c.ThresholdPoor,
	}
}

// fillTypeThresholds completes partial per-type overrides: a zero field
// takes the value of the default thresholds.
func (c *Config) fillTypeThresholds() {
	def := c.Thresholds()
	for typ, t := range c.TypeThresholds {
		if t.Excellent == 0 {
			t.Excellent = def.Excellent
		}
		if t.Good == 0 {
			t.Good = def.Good
		}
		if t.Acceptable == 0 {
			t.Acceptable = def.Acceptable
		}
		if t.Poor == 0 {
			t.Poor = def.Poor
		}
		c.TypeThresholds[typ] = t
	}
}

// ResultCacheMaxAge returns ResultCacheMaxAgeSec as a duration.
func (c *Config) ResultCacheMaxAge() time.Duration {
	return time.Duration(c.ResultCacheMaxAgeSec) * time.Second
}

// CacheSweepInterval returns CacheSweepIntervalSec as a duration.
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.CacheSweepIntervalSec) * time.Second
}

// ResultTTL returns ResultTTLSec as a duration.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSec) * time.Second
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.IngestWorkerCount <= 0:
		return fmt.Errorf("%w: ingest_worker_count must be positive", ErrInvalidConfig)
	case c.AnalysisWorkerCount <= 0:
		return fmt.Errorf("%w: analysis_worker_count must be positive", ErrInvalidConfig)
	case c.BatchDedupeSize <= 0:
		return fmt.Errorf("%w: batch_dedupe_size must be positive", ErrInvalidConfig)
	case c.ResultCacheMaxAgeSec < 0 || c.CacheSweepIntervalSec < 0 || c.ResultTTLSec < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.FitResidualTolerance < 0:
		return fmt.Errorf("%w: fit_residual_tolerance must not be negative", ErrInvalidConfig)
	case c.MaxRoutesLimit <= 0:
		return fmt.Errorf("%w: max_routes_limit must be positive", ErrInvalidConfig)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for typ, t := range c.TypeThresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: type_thresholds.%s: %w", ErrInvalidConfig, typ, err)
		}
	}
	return nil
}
