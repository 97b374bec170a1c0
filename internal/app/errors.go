package service

import (
	"errors"
	"fmt"

	"github.com/okian/normscope/internal/domain/model"
)

var (
	// ErrNotStarted is returned by calls made before Start or after Stop.
	ErrNotStarted = fmt.Errorf("service not started: %w", model.ErrUnavailable)

	// ErrBackpressure is returned when the ingestion queue is full.
	ErrBackpressure = fmt.Errorf("ingestion queue full: %w", model.ErrBackpressure)

	// ErrStart wraps failures while building the service components.
	ErrStart = errors.New("service start failed")
)
