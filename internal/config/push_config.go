package config

import "time"

type PushConfig interface {
	GetPushProjectID() string
	GetPushTokenTTL() time.Duration
}

type Push struct{}

var _ PushConfig = Push{}

// GetPushProjectID returns the registered project identifier used to scope
// platform push tokens. Empty means unscoped.
func (Push) GetPushProjectID() string {
	return GetEnv("PUSH_PROJECT_ID", "")
}

// GetPushTokenTTL is the freshness window for a cached push token. A
// cached token older than this is discarded and regenerated.
func (Push) GetPushTokenTTL() time.Duration {
	return 24 * time.Hour
}
