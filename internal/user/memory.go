package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
)

// MemoryStore keeps users and sessions in memory. It mirrors Store so tests
// of the account and api packages can run without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session // keyed by token hash
	ttl      time.Duration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		ttl:      24 * time.Hour,
	}
}

func clone(u *User) *User {
	c := *u
	return &c
}

func (m *MemoryStore) find(pred func(*User) bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if pred(u) {
			return clone(u), nil
		}
	}
	return nil, fmt.Errorf("getting user: %w", apperr.ErrNotFound)
}

func (m *MemoryStore) mutate(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("updating user: %w", apperr.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

// Create inserts a user, hashing the password.
func (m *MemoryStore) Create(_ context.Context, in CreateUserInput) (*User, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return nil, fmt.Errorf("creating user: %w", apperr.ErrConflict)
		}
	}

	now := time.Now()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	if in.Verified {
		u.EmailVerified = &now
	}
	if in.VerificationToken != "" {
		tok := in.VerificationToken
		u.VerificationToken = &tok
		u.VerificationTokenExpiry = in.VerificationTokenExpiry
	}
	m.users[u.ID] = u
	return clone(u), nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id })
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	return m.find(func(u *User) bool { return u.Email == email })
}

func (m *MemoryStore) GetByResetToken(_ context.Context, token string) (*User, error) {
	return m.find(func(u *User) bool { return u.ResetToken != nil && *u.ResetToken == token })
}

func (m *MemoryStore) GetByVerificationToken(_ context.Context, token string) (*User, error) {
	return m.find(func(u *User) bool { return u.VerificationToken != nil && *u.VerificationToken == token })
}

// List returns users newest first.
func (m *MemoryStore) List(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, clone(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	var hash string
	if in.Password != nil {
		h, err := HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	if in.Email != nil {
		other, err := m.GetByEmail(ctx, *in.Email)
		if err == nil && other.ID != id {
			return nil, fmt.Errorf("updating user: %w", apperr.ErrConflict)
		}
	}
	err := m.mutate(id, func(u *User) {
		if in.Email != nil {
			u.Email = NormalizeEmail(*in.Email)
		}
		if hash != "" {
			u.PasswordHash = hash
		}
		if in.Name != nil {
			u.Name = strings.TrimSpace(*in.Name)
		}
		if in.Role != nil {
			u.Role = *in.Role
		}
		if in.IsActive != nil {
			u.IsActive = *in.IsActive
		}
	})
	if err != nil {
		return nil, err
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryStore) SetRole(_ context.Context, id string, role auth.Role) error {
	return m.mutate(id, func(u *User) { u.Role = role })
}

func (m *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	err := m.mutate(id, func(u *User) { u.IsActive = active })
	if err == nil && !active {
		m.dropSessions(id)
	}
	return err
}

func (m *MemoryStore) RecordFailedLogin(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return m.mutate(id, func(u *User) {
		u.FailedLoginAttempts = attempts
		u.LockedUntil = lockedUntil
	})
}

func (m *MemoryStore) ResetFailedLogins(_ context.Context, id string) error {
	return m.mutate(id, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	})
}

func (m *MemoryStore) SetResetToken(_ context.Context, id, token string, expiry time.Time) error {
	return m.mutate(id, func(u *User) {
		u.ResetToken = &token
		u.ResetTokenExpiry = &expiry
	})
}

func (m *MemoryStore) CompletePasswordReset(_ context.Context, id, password string, now time.Time) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return m.mutate(id, func(u *User) {
		u.PasswordHash = hash
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		if u.EmailVerified == nil {
			u.EmailVerified = &now
		}
	})
}

func (m *MemoryStore) SetVerificationToken(_ context.Context, id, token string, expiry time.Time) error {
	return m.mutate(id, func(u *User) {
		u.VerificationToken = &token
		u.VerificationTokenExpiry = &expiry
	})
}

func (m *MemoryStore) MarkVerified(_ context.Context, id string, now time.Time) error {
	return m.mutate(id, func(u *User) {
		u.EmailVerified = &now
		u.VerificationToken = nil
		u.VerificationTokenExpiry = nil
	})
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.users[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("deleting user: %w", apperr.ErrNotFound)
	}
	delete(m.users, id)
	m.mu.Unlock()
	m.dropSessions(id)
	return nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) CreateSession(_ context.Context, userID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	plaintext := hex.EncodeToString(b)
	now := time.Now()
	sess := &Session{TokenHash: hashToken(plaintext), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(m.ttl)}

	m.mu.Lock()
	m.sessions[sess.TokenHash] = sess
	m.mu.Unlock()
	return plaintext, sess, nil
}

func (m *MemoryStore) GetSessionUser(ctx context.Context, plaintext string) (*User, error) {
	m.mu.RLock()
	sess, ok := m.sessions[hashToken(plaintext)]
	m.mu.RUnlock()
	if !ok || !time.Now().Before(sess.ExpiresAt) {
		return nil, fmt.Errorf("getting session user: %w", apperr.ErrNotFound)
	}
	return m.GetByID(ctx, sess.UserID)
}

func (m *MemoryStore) DeleteSession(_ context.Context, plaintext string) error {
	m.mu.Lock()
	delete(m.sessions, hashToken(plaintext))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) dropSessions(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, k)
		}
	}
}
