package errors

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the mobile client core
var (
	// Transport errors (request never produced a response)
	ErrNetworkFailure = errors.New("network failure")

	// Session errors (401 from the backend, session purged centrally)
	ErrAuthExpired = errors.New("authentication expired")

	// Feature-endpoint errors: the calendar/push backend is absent or
	// misconfigured (404/401 on a feature endpoint). Distinguished from a
	// generic network failure so screens can hide the feature instead of
	// showing an error.
	ErrServiceUnavailable = errors.New("service unavailable")

	// Local validation errors; these never reach the network layer
	ErrValidationFailure = errors.New("validation failure")

	// Push notification errors
	ErrPermissionDenied       = errors.New("notification permission denied")
	ErrUnsupportedEnvironment = errors.New("unsupported environment")

	// Calendar errors: the refresh token itself was rejected, full
	// re-authorization is required
	ErrIrrecoverableTokenState = errors.New("irrecoverable token state")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
