package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicockpit/cockpit/internal/auth"
)

type fakeSessionUsers struct {
	users map[string]*User
}

func (f *fakeSessionUsers) GetSessionUser(_ context.Context, token string) (*User, error) {
	u, ok := f.users[token]
	if !ok {
		return nil, errors.New("session not found")
	}
	return u, nil
}

type fakeAssignments struct {
	byUser map[string][]auth.Assignment
	err    error
}

func (f *fakeAssignments) AssignmentsForUser(_ context.Context, userID string) ([]auth.Assignment, error) {
	return f.byUser[userID], f.err
}

func TestAuthAdapter_LookupSession(t *testing.T) {
	users := &fakeSessionUsers{users: map[string]*User{
		"tok": {ID: "u1", Email: "a@example.com", Name: "Ada", Role: auth.RoleManager, IsActive: true},
	}}
	assignments := &fakeAssignments{byUser: map[string][]auth.Assignment{
		"u1": {{RoleID: "r1", RoleName: "Auditor", Permissions: []auth.Permission{{Resource: "admin", Action: "access"}}}},
	}}

	p, err := NewAuthAdapter(users, assignments).LookupSession(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "u1" || p.Role != auth.RoleManager || !p.IsActive {
		t.Errorf("unexpected principal: %+v", p)
	}
	if !auth.CanAccessAdmin(p) {
		t.Error("assignment permissions should reach the principal")
	}
}

func TestAuthAdapter_LookupSession_Errors(t *testing.T) {
	users := &fakeSessionUsers{users: map[string]*User{"tok": {ID: "u1"}}}

	if _, err := NewAuthAdapter(users, &fakeAssignments{}).LookupSession(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown session")
	}

	failing := &fakeAssignments{err: errors.New("db down")}
	if _, err := NewAuthAdapter(users, failing).LookupSession(context.Background(), "tok"); err == nil {
		t.Error("expected assignment lookup error to propagate")
	}
}

func TestUserLockedAt(t *testing.T) {
	now := mustTime(t, "2026-03-01T12:00:00Z")
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name  string
		until *time.Time
		want  bool
	}{
		{name: "never locked", until: nil, want: false},
		{name: "lock in the future", until: &future, want: true},
		{name: "lock expired", until: &past, want: false},
		{name: "lock ends exactly now", until: &now, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{LockedUntil: tt.until}
			if got := u.LockedAt(now); got != tt.want {
				t.Errorf("LockedAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("Secret123")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	u := &User{PasswordHash: hash}
	if !CheckPassword(u, "Secret123") {
		t.Error("expected correct password to match")
	}
	if CheckPassword(u, "secret123") {
		t.Error("expected wrong password to fail")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ada@Example.COM "); got != "ada@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}

func TestPrefixed(t *testing.T) {
	got := prefixed("u.", "id, email,\n\tname")
	if got != "u.id, u.email, u.name" {
		t.Errorf("prefixed = %q", got)
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing time: %v", err)
	}
	return ts
}
