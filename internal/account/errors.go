package account

import (
	"errors"
	"fmt"

	"github.com/voicockpit/cockpit/internal/apperr"
)

// Errors returned by the Guard. Each wraps an apperr kind.
var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthorized)
	ErrEmailNotVerified   = fmt.Errorf("%w: please verify your email address before signing in", apperr.ErrUnauthorized)
	ErrAccountInactive    = fmt.Errorf("%w: account is deactivated", apperr.ErrUnauthorized)
	ErrAccountLocked      = errors.New("account temporarily locked")

	ErrFieldsRequired      = fmt.Errorf("%w: name, email and password are required", apperr.ErrValidation)
	ErrEmailRequired       = fmt.Errorf("%w: email is required", apperr.ErrValidation)
	ErrEmailInvalid        = fmt.Errorf("%w: please enter a valid email address", apperr.ErrValidation)
	ErrPasswordTooShort    = fmt.Errorf("%w: password must be at least 8 characters long", apperr.ErrValidation)
	ErrPasswordNoUpper     = fmt.Errorf("%w: password must contain at least one uppercase letter", apperr.ErrValidation)
	ErrPasswordNoLower     = fmt.Errorf("%w: password must contain at least one lowercase letter", apperr.ErrValidation)
	ErrPasswordNoDigit     = fmt.Errorf("%w: password must contain at least one number", apperr.ErrValidation)
	ErrInvalidRole         = fmt.Errorf("%w: role must be one of ADMIN, MANAGER, USER, VIEWER", apperr.ErrValidation)
	ErrTokenRequired       = fmt.Errorf("%w: token is required", apperr.ErrValidation)
	ErrInvalidResetToken   = fmt.Errorf("%w: invalid or expired reset token", apperr.ErrValidation)
	ErrInvalidVerification = fmt.Errorf("%w: invalid verification token", apperr.ErrValidation)
	ErrVerificationExpired = fmt.Errorf("%w: verification token has expired", apperr.ErrValidation)
	ErrCannotModifySelf    = fmt.Errorf("%w: you cannot deactivate or delete your own account", apperr.ErrValidation)

	ErrEmailTaken = fmt.Errorf("%w: an account with this email already exists", apperr.ErrConflict)
)

// LockedError reports a sign-in refused because the account is locked.
type LockedError struct {
	Minutes int
}

func (e *LockedError) Error() string {
	unit := "minutes"
	if e.Minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("account is temporarily locked due to too many failed login attempts, try again in %d %s", e.Minutes, unit)
}

// Unwrap lets errors.Is match both ErrAccountLocked and the unauthorized kind.
func (e *LockedError) Unwrap() []error {
	return []error{ErrAccountLocked, apperr.ErrUnauthorized}
}
