package repository

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/normscope/internal/domain/interpolation"
	"github.com/okian/normscope/pkg/logger"
)

// CurveOption applies a configuration option to the CurveStore.
type CurveOption func(*CurveStore)

// WithEngine sets the interpolation engine used to build functions.
func WithEngine(e *interpolation.Engine) CurveOption {
	return func(s *CurveStore) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithCurveLogger sets the curve store logger.
func WithCurveLogger(l logger.Logger) CurveOption {
	return func(s *CurveStore) {
		s.log = l
	}
}

// WithTracer sets the tracer used for function builds.
func WithTracer(t trace.Tracer) CurveOption {
	return func(s *CurveStore) {
		if t != nil {
			s.tracer = t
		}
	}
}

// RouteOption applies a configuration option to the RouteStore.
type RouteOption func(*RouteStore)

// WithRouteLogger sets the route store logger.
func WithRouteLogger(l logger.Logger) RouteOption {
	return func(s *RouteStore) {
		s.log = l
	}
}
