package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
)

const userColumns = `id, email, password_hash, name, role, is_active, email_verified,
	failed_login_attempts, locked_until, reset_token, reset_token_expiry,
	verification_token, verification_token_expiry, created_at, updated_at`

// Store provides database operations for users and sessions.
type Store struct {
	pool       *pgxpool.Pool
	sessionTTL time.Duration
}

// NewStore creates a new user store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, sessionTTL time.Duration) *Store {
	return &Store{pool: pool, sessionTTL: sessionTTL}
}

// scanUser scans a row selected with userColumns.
func scanUser(scan func(dest ...any) error) (*User, error) {
	u := &User{}
	var role string
	err := scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &u.IsActive, &u.EmailVerified,
		&u.FailedLoginAttempts, &u.LockedUntil, &u.ResetToken, &u.ResetTokenExpiry,
		&u.VerificationToken, &u.VerificationTokenExpiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return u, nil
}

// NormalizeEmail lower-cases and trims an email address the way it is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Create inserts a new user with a bcrypt-hashed password.
func (s *Store) Create(ctx context.Context, in CreateUserInput) (*User, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = auth.RoleUser
	}

	var verified *time.Time
	if in.Verified {
		now := time.Now()
		verified = &now
	}
	var token *string
	if in.VerificationToken != "" {
		token = &in.VerificationToken
	}

	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO users (id, email, password_hash, name, role, email_verified,
			                    verification_token, verification_token_expiry)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+userColumns,
			uuid.NewString(), NormalizeEmail(in.Email), hash, strings.TrimSpace(in.Name), string(role),
			verified, token, in.VerificationTokenExpiry,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", apperr.FromDB(err))
	}
	return u, nil
}

// GetByID retrieves a user by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	if err := apperr.CheckID("getting user by id", id); err != nil {
		return nil, err
	}
	return s.getOne(ctx, "id", id)
}

// GetByEmail retrieves a user by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, "email", NormalizeEmail(email))
}

// GetByResetToken retrieves the user holding the given password-reset token.
func (s *Store) GetByResetToken(ctx context.Context, token string) (*User, error) {
	return s.getOne(ctx, "reset_token", token)
}

// GetByVerificationToken retrieves the user holding the given email-verification token.
func (s *Store) GetByVerificationToken(ctx context.Context, token string) (*User, error) {
	return s.getOne(ctx, "verification_token", token)
}

// getOne selects a single user by a fixed column; column is never user input.
func (s *Store) getOne(ctx context.Context, column, value string) (*User, error) {
	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting user by %s: %w", column, apperr.FromDB(err))
	}
	return u, nil
}

// List returns all users ordered by created_at DESC.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update performs a partial update on the user with the given id.
func (s *Store) Update(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	if err := apperr.CheckID("updating user", id); err != nil {
		return nil, err
	}
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Email != nil {
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", argIdx))
		args = append(args, NormalizeEmail(*in.Email))
		argIdx++
	}
	if in.Password != nil {
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("password_hash = $%d", argIdx))
		args = append(args, hash)
		argIdx++
	}
	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, strings.TrimSpace(*in.Name))
		argIdx++
	}
	if in.Role != nil {
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, string(*in.Role))
		argIdx++
	}
	if in.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *in.IsActive)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", apperr.FromDB(err))
	}
	return u, nil
}

// SetRole updates the primary role enum.
func (s *Store) SetRole(ctx context.Context, id string, role auth.Role) error {
	if err := apperr.CheckID("setting role", id); err != nil {
		return err
	}
	return s.exec(ctx, "setting role",
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, string(role))
}

// SetActive activates or deactivates a user. Deactivation also drops the
// user's sessions.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	if err := apperr.CheckID("setting active", id); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
		if err != nil {
			return fmt.Errorf("setting active: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("setting active: %w", apperr.ErrNotFound)
		}
		if !active {
			if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
				return fmt.Errorf("dropping sessions: %w", err)
			}
		}
		return nil
	})
}

// RecordFailedLogin stores the new failed-attempt count and, when the
// threshold was reached, the lock expiry.
func (s *Store) RecordFailedLogin(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return s.exec(ctx, "recording failed login",
		`UPDATE users SET failed_login_attempts = $2, locked_until = $3, updated_at = now() WHERE id = $1`,
		id, attempts, lockedUntil)
}

// ResetFailedLogins clears the failed-attempt counter and any expired lock.
func (s *Store) ResetFailedLogins(ctx context.Context, id string) error {
	return s.exec(ctx, "resetting failed logins",
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = now() WHERE id = $1`, id)
}

// SetResetToken stores a password-reset token and its expiry.
func (s *Store) SetResetToken(ctx context.Context, id, token string, expiry time.Time) error {
	return s.exec(ctx, "setting reset token",
		`UPDATE users SET reset_token = $2, reset_token_expiry = $3, updated_at = now() WHERE id = $1`,
		id, token, expiry)
}

// CompletePasswordReset sets the new password, clears the reset token,
// unlocks the account and marks the email as verified.
func (s *Store) CompletePasswordReset(ctx context.Context, id, password string, now time.Time) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.exec(ctx, "completing password reset",
		`UPDATE users SET password_hash = $2, reset_token = NULL, reset_token_expiry = NULL,
		        failed_login_attempts = 0, locked_until = NULL,
		        email_verified = COALESCE(email_verified, $3), updated_at = now()
		 WHERE id = $1`,
		id, hash, now)
}

// SetVerificationToken replaces the email-verification token and its expiry.
func (s *Store) SetVerificationToken(ctx context.Context, id, token string, expiry time.Time) error {
	return s.exec(ctx, "setting verification token",
		`UPDATE users SET verification_token = $2, verification_token_expiry = $3, updated_at = now() WHERE id = $1`,
		id, token, expiry)
}

// MarkVerified stamps email_verified and clears the verification token.
func (s *Store) MarkVerified(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, "marking verified",
		`UPDATE users SET email_verified = $2, verification_token = NULL, verification_token_expiry = NULL,
		        updated_at = now()
		 WHERE id = $1`,
		id, now)
}

// Delete removes a user and everything the user owns in one transaction.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := apperr.CheckID("deleting user", id); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM user_role_assignments WHERE user_id = $1`,
			`DELETE FROM comments WHERE user_id = $1`,
			`DELETE FROM activities WHERE user_id = $1`,
			`DELETE FROM notifications WHERE user_id = $1`,
			`DELETE FROM alert_preferences WHERE user_id = $1`,
			`DELETE FROM tasks WHERE owner_id = $1`,
			`DELETE FROM sessions WHERE user_id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return fmt.Errorf("deleting user data: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("deleting user: %w", apperr.ErrNotFound)
		}
		return nil
	})
}

// Count returns the number of users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (s *Store) exec(ctx context.Context, what, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, apperr.FromDB(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return nil
}

// CheckPassword verifies a plaintext password against the user's stored hash.
func CheckPassword(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// CreateSession creates a new session for the given user. It returns the
// opaque plaintext token (to be sent to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := hashToken(plaintext)

	now := time.Now()
	expiresAt := now.Add(s.sessionTTL)

	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, user_id, created_at, expires_at`,
		tokenHash, userID, now, expiresAt,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// GetSessionUser looks up a session by its plaintext token and returns the
// associated user. Expired sessions are not found.
func (s *Store) GetSessionUser(ctx context.Context, plaintext string) (*User, error) {
	tokenHash := hashToken(plaintext)

	u, err := scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+prefixed("u.", userColumns)+`
			 FROM sessions s JOIN users u ON s.user_id = u.id
			 WHERE s.token_hash = $1 AND s.expires_at > now()`,
			tokenHash,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting session user: %w", apperr.FromDB(err))
	}
	return u, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	tokenHash := hashToken(plaintext)
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// prefixed qualifies every column in a comma-separated list with prefix.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
