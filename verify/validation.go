package verify

import (
	"strings"

	apperrors "github.com/medisched/medisched-client/internal/errors"
)

// ValidateMobile checks the syntactic contract for Indian mobile numbers:
// exactly 10 digits with a leading digit in {6,7,8,9}. Purely advisory on
// the client; the server remains the authority.
func ValidateMobile(mobile string) error {
	mobile = strings.TrimSpace(mobile)
	if len(mobile) != 10 {
		return apperrors.Wrapf(apperrors.ErrValidationFailure, "mobile number must be 10 digits")
	}
	for _, r := range mobile {
		if r < '0' || r > '9' {
			return apperrors.Wrapf(apperrors.ErrValidationFailure, "mobile number must contain only digits")
		}
	}
	if mobile[0] < '6' || mobile[0] > '9' {
		return apperrors.Wrapf(apperrors.ErrValidationFailure, "mobile number must start with 6, 7, 8 or 9")
	}
	return nil
}
