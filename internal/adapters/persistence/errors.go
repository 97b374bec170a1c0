package persistence

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrNoDirectory = errors.New("persistence directory is required")
)
