package user

import (
	"time"

	"github.com/voicockpit/cockpit/internal/auth"
)

// User represents a registered user account together with its
// authentication state.
type User struct {
	ID                      string     `json:"id"`
	Email                   string     `json:"email"`
	PasswordHash            string     `json:"-"`
	Name                    string     `json:"name"`
	Role                    auth.Role  `json:"role"`
	IsActive                bool       `json:"is_active"`
	EmailVerified           *time.Time `json:"email_verified"`
	FailedLoginAttempts     int        `json:"failed_login_attempts"`
	LockedUntil             *time.Time `json:"locked_until"`
	ResetToken              *string    `json:"-"`
	ResetTokenExpiry        *time.Time `json:"-"`
	VerificationToken       *string    `json:"-"`
	VerificationTokenExpiry *time.Time `json:"-"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// IsVerified reports whether the user has confirmed their email address.
func (u *User) IsVerified() bool {
	return u.EmailVerified != nil
}

// LockedAt reports whether the account is locked at now. A lock that has
// already expired counts as unlocked.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// CreateUserInput holds the fields required to create a new user.
type CreateUserInput struct {
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Name     string    `json:"name"`
	Role     auth.Role `json:"role"`
	// Verified pre-verifies the account (admin provisioning, seeding).
	Verified                bool       `json:"verified"`
	VerificationToken       string     `json:"-"`
	VerificationTokenExpiry *time.Time `json:"-"`
}

// UpdateUserInput holds optional fields for a partial user update.
type UpdateUserInput struct {
	Email    *string    `json:"email,omitempty"`
	Password *string    `json:"password,omitempty"`
	Name     *string    `json:"name,omitempty"`
	Role     *auth.Role `json:"role,omitempty"`
	IsActive *bool      `json:"is_active,omitempty"`
}

// Session represents an active user session.
type Session struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
