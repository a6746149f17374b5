package api

import (
	"context"
	"net/http"
	"time"

	"github.com/voicockpit/cockpit/internal/account"
	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/user"
)

// accountService is the part of *account.Guard the auth handlers use.
type accountService interface {
	SignIn(ctx context.Context, email, password string) (*account.SignInResult, error)
	SignOut(ctx context.Context, token string) error
	Register(ctx context.Context, in account.RegisterInput) (*user.User, error)
	VerifyEmail(ctx context.Context, token string) (*user.User, error)
	ResendVerification(ctx context.Context, token, email string) (bool, error)
	ForgotPassword(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	accounts     accountService
	cookieName   string
	secureCookie bool
}

func newAuthHandler(accounts accountService, cookieName string, secureCookie bool) *authHandler {
	return &authHandler{accounts: accounts, cookieName: cookieName, secureCookie: secureCookie}
}

func userBody(u *user.User) map[string]interface{} {
	return map[string]interface{}{
		"id":             u.ID,
		"email":          u.Email,
		"name":           u.Name,
		"role":           u.Role,
		"is_active":      u.IsActive,
		"email_verified": u.EmailVerified,
	}
}

func (h *authHandler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	if h.cookieName == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	res, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	h.setSessionCookie(w, res.Token, res.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      res.Token,
		"expires_at": res.Session.ExpiresAt,
		"user":       userBody(res.User),
	})
}

// Register handles POST /api/v1/auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	auditLog(r, "register", "user", u.ID, "email", u.Email)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Account created. Please check your email to verify your address.",
		"user":    userBody(u),
	})
}

// VerifyEmail handles POST /api/v1/auth/verify-email.
func (h *authHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Email verified successfully",
		"user":    userBody(u),
	})
}

// ResendVerification handles POST /api/v1/auth/resend-verification.
func (h *authHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	verified, err := h.accounts.ResendVerification(r.Context(), req.Token, req.Email)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	msg := "If an account exists for this address, a new verification email has been sent."
	if verified {
		msg = "Email is already verified"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":          msg,
		"already_verified": verified,
	})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password.
func (h *authHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If an account exists for this address, a password reset link has been sent.",
	})
}

// ValidateResetToken handles POST /api/v1/auth/validate-reset-token.
func (h *authHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if err := h.accounts.ValidateResetToken(r.Context(), req.Token); err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// ResetPassword handles POST /api/v1/auth/reset-password.
func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	assignments := p.Assignments
	if assignments == nil {
		assignments = []auth.Assignment{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          p.ID,
		"email":       p.Email,
		"name":        p.Name,
		"role":        p.Role,
		"assignments": assignments,
		"capabilities": map[string]bool{
			"admin":        auth.CanAccessAdmin(p),
			"manage_users": auth.CanManageUsers(p),
			"manage_roles": auth.CanManageRoles(p),
		},
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r, h.cookieName)
	if token != "" {
		if err := h.accounts.SignOut(r.Context(), token); err != nil {
			writeDomainError(w, r, err, "session not found")
			return
		}
	}

	if h.cookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}
