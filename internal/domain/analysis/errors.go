package analysis

import "errors"

// Sentinel kinds for analysis errors.
var (
	ErrMissingDependency = errors.New("missing dependency")
	ErrCancelled         = errors.New("analysis cancelled")
)
