package classifier

import "errors"

// Sentinel kinds for classifier errors.
var (
	ErrInvalidThresholds = errors.New("invalid thresholds")
)
