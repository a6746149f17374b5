package user

import (
	"context"

	"github.com/voicockpit/cockpit/internal/auth"
)

// AssignmentSource returns the additional role assignments of a user.
type AssignmentSource interface {
	AssignmentsForUser(ctx context.Context, userID string) ([]auth.Assignment, error)
}

// sessionUsers is the subset of Store used by AuthAdapter.
type sessionUsers interface {
	GetSessionUser(ctx context.Context, token string) (*User, error)
}

// AuthAdapter adapts user.Store to the auth.SessionLookup interface.
type AuthAdapter struct {
	users       sessionUsers
	assignments AssignmentSource
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given user store and
// assignment source.
func NewAuthAdapter(users sessionUsers, assignments AssignmentSource) *AuthAdapter {
	return &AuthAdapter{users: users, assignments: assignments}
}

// LookupSession resolves a session token to a principal carrying the user's
// primary role and every assigned role's permissions.
func (a *AuthAdapter) LookupSession(ctx context.Context, token string) (*auth.Principal, error) {
	u, err := a.users.GetSessionUser(ctx, token)
	if err != nil {
		return nil, err
	}
	assignments, err := a.assignments.AssignmentsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return ToPrincipal(u, assignments), nil
}

// ToPrincipal builds an auth.Principal from a user row and its assignments.
func ToPrincipal(u *User, assignments []auth.Assignment) *auth.Principal {
	return &auth.Principal{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		IsActive:    u.IsActive,
		Assignments: assignments,
	}
}
