package api

import (
	"log/slog"
	"net/http"

	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/ratelimit"
)

// auditLog emits a structured audit log entry for an administrative action.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", ratelimit.ClientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		attrs = append(attrs, "user_id", p.ID, "user_email", p.Email, "user_role", p.Role)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}
