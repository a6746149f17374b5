// Package account governs whether a user can establish a session: sign-in
// with lockout, registration, email verification and password reset, plus
// the admin operations that change an account's standing.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/mail"
	"github.com/voicockpit/cockpit/internal/user"
)

// Repository is the user persistence the Guard needs. *user.Store and
// *user.MemoryStore satisfy it.
type Repository interface {
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByResetToken(ctx context.Context, token string) (*user.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*user.User, error)
	Update(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error

	RecordFailedLogin(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
	ResetFailedLogins(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, token string, expiry time.Time) error
	CompletePasswordReset(ctx context.Context, id, password string, now time.Time) error
	SetVerificationToken(ctx context.Context, id, token string, expiry time.Time) error
	MarkVerified(ctx context.Context, id string, now time.Time) error

	CreateSession(ctx context.Context, userID string) (string, *user.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// RoleAssigner keeps the primary role and the role assignments in step.
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID string, role auth.Role, assignedBy string) error
}

// Recorder receives sign-in outcomes for metrics.
type Recorder interface {
	RecordSignIn(outcome string)
	RecordLockout()
}

// Sign-in outcomes passed to Recorder.
const (
	OutcomeSuccess    = "success"
	OutcomeInvalid    = "invalid_credentials"
	OutcomeLocked     = "locked"
	OutcomeUnverified = "unverified"
	OutcomeInactive   = "inactive"
)

// Options holds the account security limits.
type Options struct {
	LockoutThreshold     int
	LockoutDuration      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
}

// DefaultOptions returns 5 attempts, a 30 minute lock, 1 hour reset tokens
// and 24 hour verification tokens.
func DefaultOptions() Options {
	return Options{
		LockoutThreshold:     5,
		LockoutDuration:      30 * time.Minute,
		ResetTokenTTL:        time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
	}
}

// Guard implements the account lifecycle.
type Guard struct {
	users    Repository
	roles    RoleAssigner
	mailer   mail.Sender
	opts     Options
	recorder Recorder
	now      func() time.Time
}

// NewGuard creates a Guard. recorder may be nil.
func NewGuard(users Repository, roles RoleAssigner, mailer mail.Sender, opts Options, recorder Recorder) *Guard {
	return &Guard{
		users:    users,
		roles:    roles,
		mailer:   mailer,
		opts:     opts,
		recorder: recorder,
		now:      time.Now,
	}
}

// SignInResult is a successful sign-in.
type SignInResult struct {
	User    *user.User
	Token   string
	Session *user.Session
}

// SignIn checks credentials and opens a session. Locked accounts are
// refused before the password is compared. Unverified accounts are refused
// without counting as a failed attempt.
func (g *Guard) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		g.record(OutcomeInvalid)
		return nil, ErrInvalidCredentials
	}

	u, err := g.users.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		g.record(OutcomeInvalid)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	now := g.now()
	if u.LockedAt(now) {
		g.record(OutcomeLocked)
		return nil, &LockedError{Minutes: remainingMinutes(*u.LockedUntil, now)}
	}
	if !u.IsActive {
		g.record(OutcomeInactive)
		return nil, ErrAccountInactive
	}
	if !u.IsVerified() {
		g.record(OutcomeUnverified)
		return nil, ErrEmailNotVerified
	}

	if !user.CheckPassword(u, password) {
		return nil, g.failedAttempt(ctx, u, now)
	}

	if u.FailedLoginAttempts > 0 || u.LockedUntil != nil {
		if err := g.users.ResetFailedLogins(ctx, u.ID); err != nil {
			return nil, err
		}
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}

	token, sess, err := g.users.CreateSession(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	g.record(OutcomeSuccess)
	return &SignInResult{User: u, Token: token, Session: sess}, nil
}

// failedAttempt increments the counter and locks the account once the
// threshold is reached. A lock that has already expired starts a new count.
func (g *Guard) failedAttempt(ctx context.Context, u *user.User, now time.Time) error {
	attempts := u.FailedLoginAttempts + 1
	if u.LockedUntil != nil {
		attempts = 1
	}

	var lockedUntil *time.Time
	if attempts >= g.opts.LockoutThreshold {
		until := now.Add(g.opts.LockoutDuration)
		lockedUntil = &until
	}
	if err := g.users.RecordFailedLogin(ctx, u.ID, attempts, lockedUntil); err != nil {
		return err
	}

	if lockedUntil != nil {
		g.record(OutcomeLocked)
		if g.recorder != nil {
			g.recorder.RecordLockout()
		}
		slog.Warn("account locked", "user_id", u.ID, "attempts", attempts, "locked_until", *lockedUntil)
		return &LockedError{Minutes: remainingMinutes(*lockedUntil, now)}
	}
	g.record(OutcomeInvalid)
	return ErrInvalidCredentials
}

// remainingMinutes rounds the time left on a lock up to whole minutes.
func remainingMinutes(until, now time.Time) int {
	ms := until.Sub(now).Milliseconds()
	return int(math.Ceil(float64(ms) / 60000))
}

// SignOut deletes the session behind token.
func (g *Guard) SignOut(ctx context.Context, token string) error {
	return g.users.DeleteSession(ctx, token)
}

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an unverified USER account and mails a verification link.
func (g *Guard) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, ErrFieldsRequired
	}
	return g.provision(ctx, user.CreateUserInput{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
		Role:     auth.RoleUser,
	}, "")
}

// CreateUserInput is an admin-provisioned account.
type CreateUserInput struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
	Verified bool      `json:"verified"`
}

// CreateUser provisions an account on behalf of actorID. Pre-verified
// accounts get a welcome email, others a verification link.
func (g *Guard) CreateUser(ctx context.Context, actorID string, in CreateUserInput) (*user.User, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, ErrFieldsRequired
	}
	if in.Role == "" {
		in.Role = auth.RoleUser
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	return g.provision(ctx, user.CreateUserInput{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
		Role:     in.Role,
		Verified: in.Verified,
	}, actorID)
}

func (g *Guard) provision(ctx context.Context, in user.CreateUserInput, actorID string) (*user.User, error) {
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if _, err := g.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if !in.Verified {
		token, err := newToken()
		if err != nil {
			return nil, err
		}
		expiry := g.now().Add(g.opts.VerificationTokenTTL)
		in.VerificationToken = token
		in.VerificationTokenExpiry = &expiry
	}

	u, err := g.users.Create(ctx, in)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	if err := g.roles.AssignRole(ctx, u.ID, in.Role, actorID); err != nil {
		if delErr := g.users.Delete(ctx, u.ID); delErr != nil {
			slog.Error("rolling back user after role assignment failure", "user_id", u.ID, "error", delErr)
		}
		return nil, fmt.Errorf("assigning role: %w", err)
	}

	if in.Verified {
		g.sendMail(ctx, "welcome", u.Email, func() error {
			return g.mailer.SendWelcomeEmail(ctx, u.Email, u.Name)
		})
	} else {
		g.sendMail(ctx, "verification", u.Email, func() error {
			return g.mailer.SendVerificationEmail(ctx, u.Email, u.Name, in.VerificationToken)
		})
	}
	return u, nil
}

// VerifyEmail consumes a verification token. Verifying an already verified
// account succeeds without changes.
func (g *Guard) VerifyEmail(ctx context.Context, token string) (*user.User, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}
	u, err := g.users.GetByVerificationToken(ctx, token)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidVerification
	}
	if err != nil {
		return nil, err
	}
	if u.IsVerified() {
		return u, nil
	}

	now := g.now()
	if u.VerificationTokenExpiry == nil || !now.Before(*u.VerificationTokenExpiry) {
		return nil, ErrVerificationExpired
	}
	if err := g.users.MarkVerified(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.EmailVerified = &now
	u.VerificationToken = nil
	u.VerificationTokenExpiry = nil

	g.sendMail(ctx, "welcome", u.Email, func() error {
		return g.mailer.SendWelcomeEmail(ctx, u.Email, u.Name)
	})
	return u, nil
}

// ResendVerification issues a fresh verification token, with a fresh
// expiry, for the account identified by an earlier token or by email. An
// unknown email is not reported so callers cannot discover accounts. The
// returned bool is true when the account was already verified.
func (g *Guard) ResendVerification(ctx context.Context, token, email string) (bool, error) {
	var u *user.User
	var err error
	switch {
	case token != "":
		u, err = g.users.GetByVerificationToken(ctx, token)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, ErrInvalidVerification
		}
	case email != "":
		if err := ValidateEmail(email); err != nil {
			return false, err
		}
		u, err = g.users.GetByEmail(ctx, email)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
	default:
		return false, ErrTokenRequired
	}
	if err != nil {
		return false, err
	}
	if u.IsVerified() {
		return true, nil
	}

	fresh, err := newToken()
	if err != nil {
		return false, err
	}
	if err := g.users.SetVerificationToken(ctx, u.ID, fresh, g.now().Add(g.opts.VerificationTokenTTL)); err != nil {
		return false, err
	}
	g.sendMail(ctx, "verification", u.Email, func() error {
		return g.mailer.SendVerificationEmail(ctx, u.Email, u.Name, fresh)
	})
	return false, nil
}

// ForgotPassword stores a reset token and mails it. The outcome is the same
// whether or not the account exists.
func (g *Guard) ForgotPassword(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	u, err := g.users.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !u.IsActive {
		return nil
	}

	token, err := newToken()
	if err != nil {
		return err
	}
	if err := g.users.SetResetToken(ctx, u.ID, token, g.now().Add(g.opts.ResetTokenTTL)); err != nil {
		return err
	}
	g.sendMail(ctx, "password reset", u.Email, func() error {
		return g.mailer.SendPasswordResetEmail(ctx, u.Email, u.Name, token)
	})
	return nil
}

// ValidateResetToken reports whether token is a live reset token. Missing
// and expired tokens produce the same error.
func (g *Guard) ValidateResetToken(ctx context.Context, token string) error {
	_, err := g.resetTarget(ctx, token)
	return err
}

func (g *Guard) resetTarget(ctx context.Context, token string) (*user.User, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}
	u, err := g.users.GetByResetToken(ctx, token)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidResetToken
	}
	if err != nil {
		return nil, err
	}
	if u.ResetTokenExpiry == nil || !g.now().Before(*u.ResetTokenExpiry) {
		return nil, ErrInvalidResetToken
	}
	return u, nil
}

// ResetPassword sets a new password through a reset token. It also clears
// the lockout state and marks the email as verified.
func (g *Guard) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" || password == "" {
		return ErrTokenRequired
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	u, err := g.resetTarget(ctx, token)
	if err != nil {
		return err
	}
	return g.users.CompletePasswordReset(ctx, u.ID, password, g.now())
}

// UpdateUserInput is an admin edit of an account. Role changes go through
// the role assigner.
type UpdateUserInput struct {
	Name     *string    `json:"name,omitempty"`
	Email    *string    `json:"email,omitempty"`
	Password *string    `json:"password,omitempty"`
	Role     *auth.Role `json:"role,omitempty"`
}

// UpdateUser applies an admin edit.
func (g *Guard) UpdateUser(ctx context.Context, actorID, id string, in UpdateUserInput) (*user.User, error) {
	if in.Email != nil {
		if err := ValidateEmail(*in.Email); err != nil {
			return nil, err
		}
	}
	if in.Password != nil {
		if err := ValidatePassword(*in.Password); err != nil {
			return nil, err
		}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, ErrFieldsRequired
	}
	if in.Role != nil && !in.Role.Valid() {
		return nil, ErrInvalidRole
	}

	if _, err := g.users.GetByID(ctx, id); err != nil {
		return nil, err
	}
	// Nothing is written until the new email is known to be free.
	if in.Email != nil {
		other, err := g.users.GetByEmail(ctx, *in.Email)
		switch {
		case err == nil && other.ID != id:
			return nil, ErrEmailTaken
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	if in.Role != nil {
		if err := g.roles.AssignRole(ctx, id, *in.Role, actorID); err != nil {
			return nil, err
		}
	}
	u, err := g.users.Update(ctx, id, user.UpdateUserInput{Name: in.Name, Email: in.Email, Password: in.Password})
	if errors.Is(err, apperr.ErrConflict) {
		return nil, ErrEmailTaken
	}
	return u, err
}

// ChangeRole sets a user's role on behalf of actorID.
func (g *Guard) ChangeRole(ctx context.Context, actorID, id string, role auth.Role) (*user.User, error) {
	return g.UpdateUser(ctx, actorID, id, UpdateUserInput{Role: &role})
}

// SetStatus activates or deactivates a user. Admins cannot deactivate
// themselves.
func (g *Guard) SetStatus(ctx context.Context, actorID, id string, active bool) (*user.User, error) {
	if !active && actorID == id {
		return nil, ErrCannotModifySelf
	}
	if err := g.users.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return g.users.GetByID(ctx, id)
}

// DeleteUser removes a user and everything they own. Admins cannot delete
// themselves.
func (g *Guard) DeleteUser(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return ErrCannotModifySelf
	}
	return g.users.Delete(ctx, id)
}

func (g *Guard) sendMail(ctx context.Context, kind, to string, send func() error) {
	if err := send(); err != nil {
		slog.ErrorContext(ctx, "sending email failed", "kind", kind, "to", to, "error", err)
	}
}

func (g *Guard) record(outcome string) {
	if g.recorder != nil {
		g.recorder.RecordSignIn(outcome)
	}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
