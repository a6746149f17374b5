package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/rbac"
	"github.com/voicockpit/cockpit/internal/user"
)

const goodPassword = "Secret123"

type sentMail struct {
	kind  string
	to    string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) add(m sentMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func (f *fakeMailer) SendVerificationEmail(_ context.Context, to, _, token string) error {
	return f.add(sentMail{kind: "verification", to: to, token: token})
}

func (f *fakeMailer) SendPasswordResetEmail(_ context.Context, to, _, token string) error {
	return f.add(sentMail{kind: "reset", to: to, token: token})
}

func (f *fakeMailer) SendWelcomeEmail(_ context.Context, to, _ string) error {
	return f.add(sentMail{kind: "welcome", to: to})
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "expected an email to be sent")
	return f.sent[len(f.sent)-1]
}

type fakeRecorder struct {
	outcomes []string
	lockouts int
}

func (f *fakeRecorder) RecordSignIn(outcome string) { f.outcomes = append(f.outcomes, outcome) }
func (f *fakeRecorder) RecordLockout()              { f.lockouts++ }

type fixture struct {
	guard    *Guard
	users    *user.MemoryStore
	roles    *rbac.MemoryStore
	mailer   *fakeMailer
	recorder *fakeRecorder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    user.NewMemoryStore(),
		roles:    rbac.NewMemoryStore(),
		mailer:   &fakeMailer{},
		recorder: &fakeRecorder{},
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, rbac.Seed(context.Background(), f.roles))
	f.guard = NewGuard(f.users, rbac.NewService(f.roles), f.mailer, DefaultOptions(), f.recorder)
	f.guard.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// verifiedUser provisions an active, verified user.
func (f *fixture) verifiedUser(t *testing.T, email string) *user.User {
	t.Helper()
	u, err := f.guard.CreateUser(context.Background(), "admin", CreateUserInput{
		Name: "Test User", Email: email, Password: goodPassword, Verified: true,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) reload(t *testing.T, id string) *user.User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestSignIn_Success(t *testing.T) {
	f := newFixture(t)
	u := f.verifiedUser(t, "ada@example.com")

	res, err := f.guard.SignIn(context.Background(), "ADA@example.com", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.NotEmpty(t, res.Token)

	sessUser, err := f.users.GetSessionUser(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sessUser.ID)
	assert.Equal(t, []string{OutcomeSuccess}, f.recorder.outcomes)
}

func TestSignIn_UnknownEmailIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.verifiedUser(t, "ada@example.com")

	_, errUnknown := f.guard.SignIn(context.Background(), "nobody@example.com", goodPassword)
	_, errWrong := f.guard.SignIn(context.Background(), "ada@example.com", "Wrong1234")

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	_, err := f.guard.SignIn(context.Background(), "", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSignIn_LockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	u := f.verifiedUser(t, "ada@example.com")
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := f.guard.SignIn(ctx, "ada@example.com", "Wrong1234")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i)
		assert.Equal(t, i, f.reload(t, u.ID).FailedLoginAttempts)
	}

	_, err := f.guard.SignIn(ctx, "ada@example.com", "Wrong1234")
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 30, locked.Minutes)
	assert.Equal(t, 1, f.recorder.lockouts)

	stored := f.reload(t, u.ID)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, f.now.Add(30*time.Minute), *stored.LockedUntil)

	// The sixth attempt is refused even with the right password, and the
	// password is never checked: the counter does not move.
	f.advance(10*time.Minute + 30*time.Second)
	_, err = f.guard.SignIn(ctx, "ada@example.com", goodPassword)
	require.ErrorAs(t, err, &locked)
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, 20, locked.Minutes, "19.5 minutes left rounds up")
	assert.Equal(t, 5, f.reload(t, u.ID).FailedLoginAttempts)
}

func TestSignIn_ExpiredLockActsUnlocked(t *testing.T) {
	f := newFixture(t)
	u := f.verifiedUser(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.guard.SignIn(ctx, "ada@example.com", "Wrong1234")
	}
	f.advance(31 * time.Minute)

	_, err := f.guard.SignIn(ctx, "ada@example.com", "Wrong1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, f.reload(t, u.ID).FailedLoginAttempts, "an expired lock starts a new count")

	res, err := f.guard.SignIn(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	stored := f.reload(t, res.User.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestSignIn_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	u := f.verifiedUser(t, "ada@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.guard.SignIn(ctx, "ada@example.com", "Wrong1234")
	}
	require.Equal(t, 3, f.reload(t, u.ID).FailedLoginAttempts)

	_, err := f.guard.SignIn(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, 0, f.reload(t, u.ID).FailedLoginAttempts)
}

func TestSignIn_UnverifiedDoesNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.guard.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	require.NoError(t, err)

	for _, pw := range []string{goodPassword, "Wrong1234"} {
		_, err := f.guard.SignIn(ctx, "ada@example.com", pw)
		assert.ErrorIs(t, err, ErrEmailNotVerified)
	}
	assert.Equal(t, 0, f.reload(t, u.ID).FailedLoginAttempts)
}

func TestSignIn_Inactive(t *testing.T) {
	f := newFixture(t)
	u := f.verifiedUser(t, "ada@example.com")
	_, err := f.guard.SetStatus(context.Background(), "admin", u.ID, false)
	require.NoError(t, err)

	_, err = f.guard.SignIn(context.Background(), "ada@example.com", goodPassword)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.guard.Register(ctx, RegisterInput{Name: " Ada ", Email: " Ada@Example.com ", Password: goodPassword})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, auth.RoleUser, u.Role)
	assert.False(t, u.IsVerified())
	require.NotNil(t, u.VerificationTokenExpiry)
	assert.Equal(t, f.now.Add(24*time.Hour), *u.VerificationTokenExpiry)

	sent := f.mailer.last(t)
	assert.Equal(t, "verification", sent.kind)
	assert.Equal(t, *u.VerificationToken, sent.token)

	assignments, err := f.roles.AssignmentsForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "USER", assignments[0].RoleName)

	_, err = f.guard.Register(ctx, RegisterInput{Name: "Other", Email: "ada@example.com", Password: goodPassword})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   RegisterInput
		wantErr error
	}{
		{name: "missing name", input: RegisterInput{Email: "a@example.com", Password: goodPassword}, wantErr: ErrFieldsRequired},
		{name: "bad email", input: RegisterInput{Name: "A", Email: "not-an-email", Password: goodPassword}, wantErr: ErrEmailInvalid},
		{name: "short password", input: RegisterInput{Name: "A", Email: "a@example.com", Password: "Ab1"}, wantErr: ErrPasswordTooShort},
		{name: "no upper", input: RegisterInput{Name: "A", Email: "a@example.com", Password: "secret123"}, wantErr: ErrPasswordNoUpper},
		{name: "no lower", input: RegisterInput{Name: "A", Email: "a@example.com", Password: "SECRET123"}, wantErr: ErrPasswordNoLower},
		{name: "no digit", input: RegisterInput{Name: "A", Email: "a@example.com", Password: "SecretPass"}, wantErr: ErrPasswordNoDigit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.guard.Register(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestRegister_MailFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	u, err := f.guard.Register(context.Background(), RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
}

func TestRegister_RollsBackWhenRoleMissing(t *testing.T) {
	users := user.NewMemoryStore()
	g := NewGuard(users, rbac.NewService(rbac.NewMemoryStore()), &fakeMailer{}, DefaultOptions(), nil)

	_, err := g.Register(context.Background(), RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	assert.ErrorIs(t, err, rbac.ErrRoleNotSeeded)

	n, _ := users.Count(context.Background())
	assert.Equal(t, 0, n)
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.guard.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	require.NoError(t, err)
	token := *u.VerificationToken

	f.advance(23 * time.Hour)
	verified, err := f.guard.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified())
	assert.Equal(t, "welcome", f.mailer.last(t).kind)

	stored := f.reload(t, u.ID)
	assert.Nil(t, stored.VerificationToken)
	require.NotNil(t, stored.EmailVerified)
	assert.Equal(t, f.now, *stored.EmailVerified)

	_, err = f.guard.VerifyEmail(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidVerification, "token is consumed")

	_, err = f.guard.VerifyEmail(ctx, "")
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestVerifyEmail_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.guard.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	require.NoError(t, err)

	f.advance(24 * time.Hour)
	_, err = f.guard.VerifyEmail(ctx, *u.VerificationToken)
	assert.ErrorIs(t, err, ErrVerificationExpired)
	assert.False(t, f.reload(t, u.ID).IsVerified())
}

func TestVerifyEmail_AlreadyVerifiedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "ada@example.com")
	require.NoError(t, f.users.SetVerificationToken(ctx, u.ID, "stale", f.now.Add(-time.Hour)))

	got, err := f.guard.VerifyEmail(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, u.EmailVerified, got.EmailVerified)
}

func TestResendVerification_ExtendsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.guard.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	require.NoError(t, err)
	old := *u.VerificationToken

	f.advance(30 * time.Hour)
	already, err := f.guard.ResendVerification(ctx, old, "")
	require.NoError(t, err)
	assert.False(t, already)

	stored := f.reload(t, u.ID)
	require.NotNil(t, stored.VerificationToken)
	assert.NotEqual(t, old, *stored.VerificationToken)
	assert.Equal(t, f.now.Add(24*time.Hour), *stored.VerificationTokenExpiry)
	assert.Equal(t, *stored.VerificationToken, f.mailer.last(t).token)

	_, err = f.guard.VerifyEmail(ctx, *stored.VerificationToken)
	assert.NoError(t, err)
}

func TestResendVerification_ByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedUser(t, "done@example.com")

	already, err := f.guard.ResendVerification(ctx, "", "done@example.com")
	require.NoError(t, err)
	assert.True(t, already)

	already, err = f.guard.ResendVerification(ctx, "", "ghost@example.com")
	require.NoError(t, err)
	assert.False(t, already)

	_, err = f.guard.ResendVerification(ctx, "bogus", "")
	assert.ErrorIs(t, err, ErrInvalidVerification)

	_, err = f.guard.ResendVerification(ctx, "", "")
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestForgotPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "ada@example.com")

	require.NoError(t, f.guard.ForgotPassword(ctx, "ada@example.com"))
	stored := f.reload(t, u.ID)
	require.NotNil(t, stored.ResetToken)
	assert.Equal(t, f.now.Add(time.Hour), *stored.ResetTokenExpiry)
	assert.Equal(t, "reset", f.mailer.last(t).kind)

	assert.NoError(t, f.guard.ForgotPassword(ctx, "ghost@example.com"), "unknown emails are not reported")
	assert.ErrorIs(t, f.guard.ForgotPassword(ctx, "nope"), ErrEmailInvalid)
}

func TestResetToken_MissingAndExpiredLookTheSame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "ada@example.com")
	require.NoError(t, f.guard.ForgotPassword(ctx, "ada@example.com"))
	token := *f.reload(t, u.ID).ResetToken

	require.NoError(t, f.guard.ValidateResetToken(ctx, token))

	f.advance(time.Hour)
	errExpired := f.guard.ValidateResetToken(ctx, token)
	errMissing := f.guard.ValidateResetToken(ctx, "does-not-exist")

	assert.ErrorIs(t, errExpired, ErrInvalidResetToken)
	assert.ErrorIs(t, errMissing, ErrInvalidResetToken)
	assert.Equal(t, errExpired.Error(), errMissing.Error())

	assert.Equal(t,
		f.guard.ResetPassword(ctx, token, "NewSecret1").Error(),
		f.guard.ResetPassword(ctx, "does-not-exist", "NewSecret1").Error())
}

func TestResetPassword_ClearsSecurityState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.guard.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: goodPassword})
	require.NoError(t, err)
	until := f.now.Add(30 * time.Minute)
	require.NoError(t, f.users.RecordFailedLogin(ctx, u.ID, 5, &until))

	require.NoError(t, f.guard.ForgotPassword(ctx, "ada@example.com"))
	token := *f.reload(t, u.ID).ResetToken

	assert.ErrorIs(t, f.guard.ResetPassword(ctx, token, "weak"), ErrPasswordTooShort)
	require.NoError(t, f.guard.ResetPassword(ctx, token, "NewSecret1"))

	stored := f.reload(t, u.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
	assert.Nil(t, stored.ResetToken)
	assert.Nil(t, stored.ResetTokenExpiry)
	assert.True(t, stored.IsVerified(), "a reset proves ownership of the email")

	_, err = f.guard.SignIn(ctx, "ada@example.com", "NewSecret1")
	assert.NoError(t, err)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.guard.CreateUser(ctx, "admin", CreateUserInput{
		Name: "Max", Email: "max@example.com", Password: goodPassword, Role: auth.RoleManager,
	})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleManager, u.Role)
	assert.False(t, u.IsVerified())
	assert.Equal(t, "verification", f.mailer.last(t).kind)
	assert.Equal(t, auth.RoleManager, f.roles.UserRole(u.ID))

	_, err = f.guard.CreateUser(ctx, "admin", CreateUserInput{
		Name: "Bad", Email: "bad@example.com", Password: goodPassword, Role: "OWNER",
	})
	assert.ErrorIs(t, err, ErrInvalidRole)

	v := f.verifiedUser(t, "ver@example.com")
	assert.True(t, v.IsVerified())
	assert.Equal(t, "welcome", f.mailer.last(t).kind)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "ada@example.com")
	f.verifiedUser(t, "taken@example.com")

	name := "Ada Lovelace"
	role := auth.RoleViewer
	got, err := f.guard.UpdateUser(ctx, "admin", u.ID, UpdateUserInput{Name: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, auth.RoleViewer, f.roles.UserRole(u.ID))

	taken := "taken@example.com"
	_, err = f.guard.UpdateUser(ctx, "admin", u.ID, UpdateUserInput{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.guard.UpdateUser(ctx, "admin", "missing", UpdateUserInput{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.guard.ChangeRole(ctx, "admin", u.ID, auth.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleManager, f.roles.UserRole(u.ID))
}

func TestUpdateUser_EmailConflictWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "ada@example.com")
	f.verifiedUser(t, "taken@example.com")
	before := f.roles.UserRole(u.ID)

	name := "Ada Lovelace"
	taken := "Taken@Example.com"
	role := auth.RoleManager
	_, err := f.guard.UpdateUser(ctx, "admin", u.ID, UpdateUserInput{Name: &name, Email: &taken, Role: &role})
	require.ErrorIs(t, err, ErrEmailTaken)

	assert.Equal(t, before, f.roles.UserRole(u.ID))
	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.NotEqual(t, "Ada Lovelace", got.Name)

	// Keeping one's own address is not a conflict.
	own := "ADA@example.com"
	got, err = f.guard.UpdateUser(ctx, "admin", u.ID, UpdateUserInput{Email: &own, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, auth.RoleManager, f.roles.UserRole(u.ID))
}

func TestSetStatusAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.verifiedUser(t, "admin@example.com")
	u := f.verifiedUser(t, "ada@example.com")

	_, err := f.guard.SetStatus(ctx, admin.ID, admin.ID, false)
	assert.ErrorIs(t, err, ErrCannotModifySelf)

	got, err := f.guard.SetStatus(ctx, admin.ID, u.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = f.guard.SetStatus(ctx, admin.ID, u.ID, true)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	assert.ErrorIs(t, f.guard.DeleteUser(ctx, admin.ID, admin.ID), ErrCannotModifySelf)
	require.NoError(t, f.guard.DeleteUser(ctx, admin.ID, u.ID))
	_, err = f.users.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedUser(t, "ada@example.com")

	res, err := f.guard.SignIn(ctx, "ada@example.com", goodPassword)
	require.NoError(t, err)
	require.NoError(t, f.guard.SignOut(ctx, res.Token))

	_, err = f.users.GetSessionUser(ctx, res.Token)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLockedErrorMessage(t *testing.T) {
	assert.Contains(t, (&LockedError{Minutes: 1}).Error(), "1 minute")
	assert.Contains(t, (&LockedError{Minutes: 12}).Error(), "12 minutes")
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ada@example.com"))
	assert.ErrorIs(t, ValidateEmail("  "), ErrEmailRequired)
	assert.ErrorIs(t, ValidateEmail("ada@"), ErrEmailInvalid)
	assert.ErrorIs(t, ValidateEmail("Ada <ada@example.com>"), ErrEmailInvalid)
}
