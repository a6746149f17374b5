package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/metrics"
	"github.com/voicockpit/cockpit/internal/notification"
	"github.com/voicockpit/cockpit/internal/ratelimit"
	"github.com/voicockpit/cockpit/internal/rbac"
	"github.com/voicockpit/cockpit/internal/realtime"
	"github.com/voicockpit/cockpit/internal/task"
)

// AccountService is the account lifecycle the router exposes.
// *account.Guard satisfies it.
type AccountService interface {
	accountService
	userAdmin
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Accounts      AccountService
	Users         userLister
	Roles         *rbac.Service
	Tasks         *task.Service
	Notifications *notification.Service
	Scanner       scanRunner
	Hub           *realtime.Hub
	Metrics       *metrics.Metrics
	Limiter       *ratelimit.Limiter

	Sessions       auth.SessionLookup
	CookieName     string
	SecureCookie   bool
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	// Handlers.
	authH := newAuthHandler(deps.Accounts, deps.CookieName, deps.SecureCookie)
	users := newUsersHandler(deps.Accounts, deps.Users)
	roles := newRolesHandler(deps.Roles)
	tasks := newTasksHandler(deps.Tasks)
	notes := newNotificationsHandler(deps.Notifications)
	alerts := newAlertsHandler(deps.Scanner)

	var onReject []func(*http.Request)
	if deps.Metrics != nil {
		onReject = append(onReject, func(r *http.Request) {
			deps.Metrics.IncRateLimitRejection(r.URL.Path)
		})
	}
	limited := ratelimit.Middleware(deps.Limiter, onReject...)
	session := auth.SessionMiddleware(deps.Sessions, deps.CookieName)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus exposition.
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(ar chi.Router) {
		// Public (unauthenticated) routes, rate limited per client IP.
		ar.Group(func(pr chi.Router) {
			pr.Use(limited)
			pr.Post("/auth/login", authH.Login)
			pr.Post("/auth/register", authH.Register)
			pr.Post("/auth/verify-email", authH.VerifyEmail)
			pr.Post("/auth/resend-verification", authH.ResendVerification)
			pr.Post("/auth/forgot-password", authH.ForgotPassword)
			pr.Post("/auth/validate-reset-token", authH.ValidateResetToken)
			pr.Post("/auth/reset-password", authH.ResetPassword)
		})

		// Session-authed routes.
		ar.Group(func(sr chi.Router) {
			sr.Use(session)

			sr.Post("/auth/logout", authH.Logout)
			sr.Get("/auth/me", authH.Me)

			// Tasks, guarded by the seeded task permissions.
			read := auth.Require(auth.Can("tasks", "read"))
			update := auth.Require(auth.Can("tasks", "update"))
			sr.With(read).Get("/tasks", tasks.ListTasks)
			sr.With(auth.Require(auth.Can("tasks", "create"))).Post("/tasks", tasks.CreateTask)
			sr.With(read).Post("/tasks/search", tasks.SearchTasks)
			sr.With(read).Get("/tasks/{id}", tasks.GetTask)
			sr.With(update).Put("/tasks/{id}", tasks.UpdateTask)
			sr.With(auth.Require(auth.Can("tasks", "delete"))).Delete("/tasks/{id}", tasks.DeleteTask)
			sr.With(update).Post("/tasks/{id}/subtasks", tasks.AddSubtask)
			sr.With(update).Put("/tasks/{id}/subtasks/{subtaskID}", tasks.UpdateSubtask)
			sr.With(update).Delete("/tasks/{id}/subtasks/{subtaskID}", tasks.DeleteSubtask)
			sr.With(read).Get("/tasks/{id}/comments", tasks.ListComments)
			sr.With(update).Post("/tasks/{id}/comments", tasks.AddComment)
			sr.With(read).Get("/activities", tasks.ListActivities)

			// Notifications and alerts.
			sr.Get("/notifications", notes.ListNotifications)
			sr.Post("/notifications", notes.UpdateNotifications)
			check := auth.Require(auth.Can("alerts", "check"))
			sr.With(check).Get("/alerts/check", alerts.Check)
			sr.With(check).Post("/alerts/check", alerts.Check)
			sr.Get("/alerts/preferences", notes.GetPreferences)
			sr.Put("/alerts/preferences", notes.SavePreference)

			// Realtime.
			if deps.Hub != nil {
				sr.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
					deps.Hub.ServeWS(w, r, actorID(r))
				})
			}

			// Administration.
			sr.Route("/admin", func(adm chi.Router) {
				adm.With(auth.Require(auth.CanAccessAdmin)).Get("/users", users.ListUsers)
				if deps.Metrics != nil {
					adm.With(auth.Require(auth.CanAccessAdmin)).Get("/metrics", deps.Metrics.Handler())
				}

				adm.Group(func(ur chi.Router) {
					ur.Use(auth.Require(auth.CanManageUsers))
					ur.Post("/users", users.CreateUser)
					ur.Put("/users/{id}", users.UpdateUser)
					ur.Delete("/users/{id}", users.DeleteUser)
					ur.Put("/users/{id}/role", users.ChangeRole)
					ur.Put("/users/{id}/status", users.SetStatus)
				})

				adm.Group(func(rr chi.Router) {
					rr.Use(auth.Require(auth.CanManageRoles))
					rr.Get("/roles", roles.ListRoles)
					rr.Post("/roles", roles.CreateRole)
					rr.Put("/roles/{id}", roles.UpdateRole)
					rr.Delete("/roles/{id}", roles.DeleteRole)
					rr.Put("/roles/{id}/permissions", roles.SetPermissions)
					rr.Get("/permissions", roles.ListPermissions)
				})
			})
		})
	})

	return r
}
