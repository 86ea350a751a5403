package credstore

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// SaveCalendarCredential persists the calendar OAuth token pair with its
// absolute expiry. The refresh token is retained even when the caller
// updates only the access token, matching the refresh contract.
func SaveCalendarCredential(s Store, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("[SaveCalendarCredential] access token is required")
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		// Keep the existing refresh token when the backend did not rotate it
		if existing, err := s.Get(KeyCalendarRefreshToken); err == nil {
			refreshToken = existing
		}
	}

	fields := map[string]string{
		KeyCalendarAccessToken:  token.AccessToken,
		KeyCalendarRefreshToken: refreshToken,
		KeyCalendarExpiresAt:    token.Expiry.UTC().Format(time.RFC3339),
	}
	for key, value := range fields {
		if err := s.Set(key, value); err != nil {
			return fmt.Errorf("[SaveCalendarCredential] set %s: %w", key, err)
		}
	}
	return nil
}

// LoadCalendarCredential returns the persisted token pair, or nil when the
// calendar has never been connected (or has been disconnected).
func LoadCalendarCredential(s Store) (*oauth2.Token, error) {
	accessToken, err := s.Get(KeyCalendarAccessToken)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[LoadCalendarCredential] read access token: %w", err)
	}

	token := &oauth2.Token{AccessToken: accessToken}
	token.RefreshToken, _ = s.Get(KeyCalendarRefreshToken)
	if expiresAt, err := s.Get(KeyCalendarExpiresAt); err == nil {
		if parsed, err := time.Parse(time.RFC3339, expiresAt); err == nil {
			token.Expiry = parsed
		}
	}
	return token, nil
}

// ClearCalendarCredential removes all three calendar keys.
func ClearCalendarCredential(s Store) error {
	keys := []string{KeyCalendarAccessToken, KeyCalendarRefreshToken, KeyCalendarExpiresAt}
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			return fmt.Errorf("[ClearCalendarCredential] delete %s: %w", key, err)
		}
	}
	return nil
}
