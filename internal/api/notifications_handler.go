package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voicockpit/cockpit/internal/alert"
	"github.com/voicockpit/cockpit/internal/notification"
)

// notificationsHandler groups inbox and alert preference HTTP handlers.
type notificationsHandler struct {
	svc *notification.Service
}

func newNotificationsHandler(svc *notification.Service) *notificationsHandler {
	return &notificationsHandler{svc: svc}
}

// ListNotifications handles GET /api/v1/notifications.
func (h *notificationsHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := notification.ListParams{UnreadOnly: q.Get("unreadOnly") == "true"}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
		params.Limit = n
	}

	inbox, err := h.svc.Inbox(r.Context(), actorID(r), params)
	if err != nil {
		writeDomainError(w, r, err, "notification not found")
		return
	}
	if inbox.Notifications == nil {
		inbox.Notifications = []*notification.Notification{}
	}
	writeJSON(w, http.StatusOK, inbox)
}

// UpdateNotifications handles POST /api/v1/notifications.
func (h *notificationsHandler) UpdateNotifications(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NotificationIDs []string `json:"notificationIds"`
		Action          string   `json:"action"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	n, err := h.svc.Apply(r.Context(), actorID(r), req.Action, req.NotificationIDs)
	if err != nil {
		writeDomainError(w, r, err, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"updated": n,
	})
}

// GetPreferences handles GET /api/v1/alerts/preferences.
func (h *notificationsHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.svc.Preferences(r.Context(), actorID(r))
	if err != nil {
		writeDomainError(w, r, err, "preference not found")
		return
	}
	if prefs == nil {
		prefs = []*notification.Preference{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"preferences": prefs})
}

// SavePreference handles PUT /api/v1/alerts/preferences.
func (h *notificationsHandler) SavePreference(w http.ResponseWriter, r *http.Request) {
	var req notification.PreferenceInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	pref, err := h.svc.SavePreference(r.Context(), actorID(r), req)
	if err != nil {
		writeDomainError(w, r, err, "preference not found")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// scanRunner runs alert passes. *alert.Scanner satisfies it.
type scanRunner interface {
	Run(ctx context.Context, passes ...alert.Pass) (*alert.Report, error)
}

// alertsHandler triggers alert scans on demand.
type alertsHandler struct {
	scanner scanRunner
}

func newAlertsHandler(scanner scanRunner) *alertsHandler {
	return &alertsHandler{scanner: scanner}
}

// Check handles GET and POST /api/v1/alerts/check. The optional "only"
// query parameter restricts the scan to one pass.
func (h *alertsHandler) Check(w http.ResponseWriter, r *http.Request) {
	var passes []alert.Pass
	if only := r.URL.Query().Get("only"); only != "" {
		p, err := alert.ParsePass(only)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		passes = append(passes, p)
	}

	report, err := h.scanner.Run(r.Context(), passes...)
	if errors.Is(err, alert.ErrScanInProgress) {
		writeError(w, http.StatusConflict, "conflict", "an alert check is already running")
		return
	}
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}

	auditLog(r, "check", "alerts", "", "deadline_created", report.DeadlineCreated, "overdue_created", report.OverdueCreated)
	if report.Failed() {
		slog.ErrorContext(r.Context(), "alert check failed",
			"request_id", RequestIDFromContext(r.Context()),
			"errors", report.Errors,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error": errorDetail{
				Code:    "internal_error",
				Message: "Failed to check alerts",
			},
			"failedPasses": report.FailedPasses(),
			"report": alert.Report{
				DeadlineCreated: report.DeadlineCreated,
				OverdueCreated:  report.OverdueCreated,
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Alerts checked successfully",
		"report":  report,
	})
}
