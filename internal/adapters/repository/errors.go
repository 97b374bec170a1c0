package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotInterpolable = errors.New("curve cannot be interpolated")
)
