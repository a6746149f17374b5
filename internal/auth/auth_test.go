package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// --- mock store ---

type mockSessionLookup struct {
	sessions map[string]*Principal
}

func (m *mockSessionLookup) LookupSession(ctx context.Context, token string) (*Principal, error) {
	p, ok := m.sessions[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func withPerms(perms ...Permission) []Assignment {
	return []Assignment{{RoleID: "r1", RoleName: "Custom", Permissions: perms}}
}

// --- Authorize tests ---

func TestAuthorize_AdminBypass(t *testing.T) {
	p := &Principal{ID: "u1", Role: RoleAdmin}

	for _, pair := range [][2]string{{"admin", "manage_users"}, {"tasks", "delete"}, {"anything", "at-all"}} {
		if !Authorize(p, pair[0], pair[1]) {
			t.Errorf("admin should be authorized for %s:%s", pair[0], pair[1])
		}
	}
}

func TestAuthorize_NonAdmin(t *testing.T) {
	tests := []struct {
		name        string
		assignments []Assignment
		resource    string
		action      string
		want        bool
	}{
		{
			name:     "no assignments",
			resource: "admin",
			action:   "access",
			want:     false,
		},
		{
			name:        "exact match",
			assignments: withPerms(Permission{Resource: "admin", Action: "access"}),
			resource:    "admin",
			action:      "access",
			want:        true,
		},
		{
			name:        "resource matches but action does not",
			assignments: withPerms(Permission{Resource: "admin", Action: "access"}),
			resource:    "admin",
			action:      "manage_users",
			want:        false,
		},
		{
			name:        "match is case-sensitive",
			assignments: withPerms(Permission{Resource: "Admin", Action: "access"}),
			resource:    "admin",
			action:      "access",
			want:        false,
		},
		{
			name: "match in second assignment",
			assignments: []Assignment{
				{RoleName: "A", Permissions: []Permission{{Resource: "tasks", Action: "read"}}},
				{RoleName: "B", Permissions: []Permission{{Resource: "admin", Action: "manage_roles"}}},
			},
			resource: "admin",
			action:   "manage_roles",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, role := range []Role{RoleManager, RoleUser, RoleViewer} {
				p := &Principal{ID: "u1", Role: role, Assignments: tt.assignments}
				if got := Authorize(p, tt.resource, tt.action); got != tt.want {
					t.Errorf("role %s: Authorize = %v, want %v", role, got, tt.want)
				}
			}
		})
	}
}

func TestAuthorize_NilPrincipal(t *testing.T) {
	if Authorize(nil, "admin", "access") {
		t.Error("nil principal must not be authorized")
	}
	if IsAdmin(nil) || IsManager(nil) || CanAccessAdmin(nil) {
		t.Error("nil principal must fail every check")
	}
}

func TestNamedChecks(t *testing.T) {
	admin := &Principal{Role: RoleAdmin}
	manager := &Principal{Role: RoleManager}
	plain := &Principal{Role: RoleUser}
	userAdmin := &Principal{Role: RoleUser, Assignments: withPerms(Permission{Resource: "admin", Action: "manage_users"})}

	if !IsManager(admin) || !IsManager(manager) || IsManager(plain) {
		t.Error("IsManager should accept MANAGER and ADMIN only")
	}
	if CanManageUsers(manager) {
		t.Error("MANAGER without assignment must not manage users")
	}
	if !CanManageUsers(userAdmin) {
		t.Error("manage_users assignment should grant CanManageUsers")
	}
	if CanManageRoles(userAdmin) || CanAccessAdmin(userAdmin) {
		t.Error("manage_users must not imply other admin capabilities")
	}
	if !CanManageRoles(admin) || !CanAccessAdmin(admin) {
		t.Error("admin should pass every named check")
	}
}

func TestCan(t *testing.T) {
	viewer := &Principal{Role: RoleViewer, Assignments: withPerms(Permission{Resource: "tasks", Action: "read"})}
	admin := &Principal{Role: RoleAdmin}

	if !Can("tasks", "read")(viewer) {
		t.Error("tasks:read assignment should pass Can(tasks, read)")
	}
	if Can("tasks", "delete")(viewer) {
		t.Error("tasks:read must not imply tasks:delete")
	}
	if !Can("alerts", "check")(admin) {
		t.Error("admin should pass every Can check")
	}
	if Can("tasks", "read")(nil) {
		t.Error("nil principal must fail Can")
	}
}

func TestHasAnyPermission(t *testing.T) {
	p := &Principal{Role: RoleViewer, Assignments: withPerms(Permission{Resource: "tasks", Action: "read"})}

	if !HasAnyPermission(p, []Permission{{Resource: "tasks", Action: "update"}, {Resource: "tasks", Action: "read"}}) {
		t.Error("expected one matching permission to be enough")
	}
	if HasAnyPermission(p, nil) {
		t.Error("empty permission list should never match")
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleManager, RoleUser, RoleViewer} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("OWNER").Valid() || Role("admin").Valid() {
		t.Error("unknown or lower-case roles should be invalid")
	}
}

// --- Context helper tests ---

func TestPrincipalFromContext_Empty(t *testing.T) {
	got := PrincipalFromContext(context.Background())
	if got != nil {
		t.Errorf("expected nil from empty context, got %+v", got)
	}
}

// --- SessionMiddleware tests ---

func TestSessionMiddleware(t *testing.T) {
	store := &mockSessionLookup{
		sessions: map[string]*Principal{
			"good":     {ID: "u1", Email: "a@example.com", Role: RoleUser, IsActive: true},
			"inactive": {ID: "u2", Email: "b@example.com", Role: RoleUser, IsActive: false},
		},
	}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			t.Error("expected principal in context inside handler")
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		cookie     string
		wantStatus int
	}{
		{name: "valid bearer", authHeader: "Bearer good", wantStatus: http.StatusOK},
		{name: "valid cookie", cookie: "good", wantStatus: http.StatusOK},
		{name: "unknown token", authHeader: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "inactive user", authHeader: "Bearer inactive", wantStatus: http.StatusUnauthorized},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "malformed header ignores cookie", authHeader: "Token good", cookie: "good", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "sid", Value: tt.cookie})
			}
			rr := httptest.NewRecorder()

			SessionMiddleware(store, "sid")(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assertJSONError(t, rr)
			}
		})
	}
}

// --- Require tests ---

func TestRequire(t *testing.T) {
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		principal  *Principal
		wantStatus int
	}{
		{name: "admin passes", principal: &Principal{Role: RoleAdmin}, wantStatus: http.StatusOK},
		{name: "plain user rejected", principal: &Principal{Role: RoleUser}, wantStatus: http.StatusUnauthorized},
		{name: "no principal rejected", principal: nil, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
			if tt.principal != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), tt.principal))
			}
			rr := httptest.NewRecorder()

			Require(CanManageUsers)(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v for status %d", called, rr.Code)
			}
		})
	}
}

// assertJSONError checks that the response body contains the expected error JSON structure.
func assertJSONError(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()

	ct := rr.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error.Code != "unauthorized" {
		t.Errorf("expected error code 'unauthorized', got %q", resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected non-empty error message")
	}
}
