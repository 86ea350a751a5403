package credstore

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies which side of the appointment a user sits on.
type Role string

const (
	RoleUser   Role = "USER"
	RoleDoctor Role = "DOCTOR"
)

// Session is the authenticated identity state persisted between launches.
// Invariant: AccessToken and Role are both set or the session is treated
// as absent.
type Session struct {
	AccessToken string
	Role        Role
	UserID      string
	FullName    string
	Mobile      string
}

// SaveSession persists the session. Sessions missing a token or role are
// rejected rather than stored half-formed.
func SaveSession(s Store, session *Session) error {
	if session == nil || session.AccessToken == "" || session.Role == "" {
		return fmt.Errorf("[SaveSession] session requires both access token and role")
	}
	fields := map[string]string{
		KeyAccessToken: session.AccessToken,
		KeyRole:        string(session.Role),
		KeyUserID:      session.UserID,
		KeyFullName:    session.FullName,
		KeyMobile:      session.Mobile,
	}
	for key, value := range fields {
		if err := s.Set(key, value); err != nil {
			return fmt.Errorf("[SaveSession] set %s: %w", key, err)
		}
	}
	return nil
}

// LoadSession returns the persisted session, or nil when none exists. A
// half-persisted session (token without role, or role without token)
// violates the session invariant; it is purged and reported as absent.
func LoadSession(s Store) (*Session, error) {
	token, tokenErr := s.Get(KeyAccessToken)
	role, roleErr := s.Get(KeyRole)

	if tokenErr == ErrNotFound && roleErr == ErrNotFound {
		return nil, nil
	}
	if tokenErr != nil && tokenErr != ErrNotFound {
		return nil, fmt.Errorf("[LoadSession] read token: %w", tokenErr)
	}
	if roleErr != nil && roleErr != ErrNotFound {
		return nil, fmt.Errorf("[LoadSession] read role: %w", roleErr)
	}
	if tokenErr == ErrNotFound || roleErr == ErrNotFound || token == "" || role == "" {
		if err := ClearSession(s); err != nil {
			return nil, fmt.Errorf("[LoadSession] purge inconsistent session: %w", err)
		}
		return nil, nil
	}

	session := &Session{AccessToken: token, Role: Role(role)}
	session.UserID, _ = s.Get(KeyUserID)
	session.FullName, _ = s.Get(KeyFullName)
	session.Mobile, _ = s.Get(KeyMobile)
	return session, nil
}

// ClearSession removes every persisted session field.
func ClearSession(s Store) error {
	for _, key := range []string{KeyAccessToken, KeyRole, KeyUserID, KeyFullName, KeyMobile} {
		if err := s.Delete(key); err != nil {
			return fmt.Errorf("[ClearSession] delete %s: %w", key, err)
		}
	}
	return nil
}

// TokenClaims are display hints pulled from the session JWT. The token is
/// parsed without signature verification: the backend remains the authority
// and these values are never used for access decisions.
type TokenClaims struct {
	Subject   string
	Role      Role
	ExpiresAt time.Time
}

// ParseTokenClaims extracts TokenClaims from a raw access token.
func ParseTokenClaims(accessToken string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("[ParseTokenClaims] parse: %w", err)
	}

	out := &TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if role, ok := claims["role"].(string); ok {
		out.Role = Role(role)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
