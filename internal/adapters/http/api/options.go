package api

// Default request limits.
const (
	defaultMaxBodyBytes     = 32 << 20
	defaultMaxBatchRequests = 100
)

type options struct {
	maxBodyBytes     int64
	maxBatchRequests int
}

func defaultOptions() options {
	return options{
		maxBodyBytes:     defaultMaxBodyBytes,
		maxBatchRequests: defaultMaxBatchRequests,
	}
}

// Option applies a configuration option to the Server.
type Option func(*options)

// WithMaxBodyBytes bounds the size of ingestion request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithMaxBatchRequests bounds the number of requests in one batch analysis.
func WithMaxBatchRequests(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatchRequests = n
		}
	}
}
