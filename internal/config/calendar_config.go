package config

import "time"

type CalendarConfig interface {
	GetCallbackTimeout() time.Duration
	GetLoopbackAddr() string
}

type Calendar struct{}

var _ CalendarConfig = Calendar{}

// GetCallbackTimeout bounds how long an authorization flow waits for the
// browser to deliver the OAuth callback before the flow is abandoned.
func (Calendar) GetCallbackTimeout() time.Duration {
	return 5 * time.Minute
}

// GetLoopbackAddr is where the loopback callback listener binds when deep
// links are received over HTTP instead of a platform URL event.
func (Calendar) GetLoopbackAddr() string {
	return GetEnv("CALENDAR_LOOPBACK_ADDR", "127.0.0.1:8125")
}
