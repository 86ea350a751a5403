package credstore

import "errors"

// Persisted key names. The store is the exclusive owner of everything kept
// under these keys; other packages read and write through the typed
// helpers in this package.
const (
	KeyAccessToken = "access_token"
	KeyRole        = "role"
	KeyUserID      = "user_id"
	KeyFullName    = "full_name"
	KeyMobile      = "mobile"

	KeyPushToken         = "push_token"
	KeyPushTokenIssuedAt = "push_token_issued_at"
	KeyPushTokenOrigin   = "push_token_origin"
	KeyPushBackendReady  = "push_backend_ready"

	KeyCalendarAccessToken  = "calendar_access_token"
	KeyCalendarRefreshToken = "calendar_refresh_token"
	KeyCalendarExpiresAt    = "calendar_expires_at"
)

// ErrNotFound is returned by Get for a key that has never been set or has
// been deleted.
var ErrNotFound = errors.New("credential not found")

// Store is secure key-value storage that survives app restarts.
type Store interface {
	// Get retrieves a value; ErrNotFound when the key is absent
	Get(key string) (string, error)

	// Set creates or replaces a value
	Set(key, value string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error
}
