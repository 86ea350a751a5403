package config

import "time"

// RetryConfig bounds the automatic retry of idempotent requests that
// failed before producing a response. Responses with an error status are
// never retried automatically.
type RetryConfig interface {
	GetRetryAttempts() int
	GetRetryBaseDelay() time.Duration
}

type Retry struct{}

var _ RetryConfig = Retry{}

func (Retry) GetRetryAttempts() int {
	return 2
}

func (Retry) GetRetryBaseDelay() time.Duration {
	return 500 * time.Millisecond
}
