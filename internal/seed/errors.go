package seed

import "errors"

// Error constants.
var (
	ErrServiceUnhealthy = errors.New("service health check failed")
	ErrTimeout          = errors.New("timed out waiting for batches to apply")
	ErrVerification     = errors.New("analysis does not match planted deviations")
	ErrStatus           = errors.New("unexpected HTTP status")
)
