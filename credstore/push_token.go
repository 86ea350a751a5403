package credstore

import (
	"fmt"
	"time"
)

// TokenOrigin records whether a push token came from the platform push
// service or was synthesized for a constrained development host.
type TokenOrigin string

const (
	OriginProduction          TokenOrigin = "PRODUCTION"
	OriginDevelopmentFallback TokenOrigin = "DEVELOPMENT_FALLBACK"
)

// PushTokenRecord is the cached device push token. Freshness is judged by
// the caller against IssuedAt; the record is not guaranteed unique across
// app reinstalls.
type PushTokenRecord struct {
	Value    string
	IssuedAt time.Time
	Origin   TokenOrigin
}

// SavePushToken caches a push token with its issue timestamp and origin.
func SavePushToken(s Store, record *PushTokenRecord) error {
	if record == nil || record.Value == "" {
		return fmt.Errorf("[SavePushToken] token value is required")
	}
	fields := map[string]string{
		KeyPushToken:         record.Value,
		KeyPushTokenIssuedAt: record.IssuedAt.UTC().Format(time.RFC3339),
		KeyPushTokenOrigin:   string(record.Origin),
	}
	for key, value := range fields {
		if err := s.Set(key, value); err != nil {
			return fmt.Errorf("[SavePushToken] set %s: %w", key, err)
		}
	}
	return nil
}

// LoadPushToken returns the cached token, or nil when none is cached. A
// record with an unreadable timestamp is discarded.
func LoadPushToken(s Store) (*PushTokenRecord, error) {
	value, err := s.Get(KeyPushToken)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[LoadPushToken] read token: %w", err)
	}

	record := &PushTokenRecord{Value: value, Origin: OriginProduction}
	if origin, err := s.Get(KeyPushTokenOrigin); err == nil {
		record.Origin = TokenOrigin(origin)
	}
	issuedAt, err := s.Get(KeyPushTokenIssuedAt)
	if err != nil {
		return nil, ClearPushToken(s)
	}
	record.IssuedAt, err = time.Parse(time.RFC3339, issuedAt)
	if err != nil {
		return nil, ClearPushToken(s)
	}
	return record, nil
}

// ClearPushToken removes the cached token and its backend-ready marker.
func ClearPushToken(s Store) error {
	keys := []string{KeyPushToken, KeyPushTokenIssuedAt, KeyPushTokenOrigin, KeyPushBackendReady}
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			return fmt.Errorf("[ClearPushToken] delete %s: %w", key, err)
		}
	}
	return nil
}
