package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicockpit/cockpit/internal/account"
	"github.com/voicockpit/cockpit/internal/alert"
	"github.com/voicockpit/cockpit/internal/api"
	"github.com/voicockpit/cockpit/internal/mail"
	"github.com/voicockpit/cockpit/internal/metrics"
	"github.com/voicockpit/cockpit/internal/notification"
	"github.com/voicockpit/cockpit/internal/ratelimit"
	"github.com/voicockpit/cockpit/internal/rbac"
	"github.com/voicockpit/cockpit/internal/realtime"
	"github.com/voicockpit/cockpit/internal/task"
	"github.com/voicockpit/cockpit/internal/user"
)

const janitorInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Cockpit API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	})

	hub := realtime.NewHub(cfg.CORS.AllowedOrigins, m.WebsocketConnections)
	defer hub.Close()

	userStore := user.NewStore(pool, cfg.Auth.SessionTTL)
	roles := rbac.NewService(rbac.NewStore(pool))
	guard := account.NewGuard(userStore, roles, mail.New(cfg.Mail), account.Options{
		LockoutThreshold:     cfg.Auth.LockoutThreshold,
		LockoutDuration:      cfg.Auth.LockoutDuration,
		ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
		VerificationTokenTTL: cfg.Auth.VerificationTokenTTL,
	}, m)

	tasks := task.NewService(task.NewStore(pool), hub)
	noteStore := notification.NewStore(pool)
	notes := notification.NewService(noteStore)

	rdb := newRedis(cfg)
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, scans will fail to take the lock until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
	}
	scanner, err := newScanner(cfg, alert.NewStore(pool), noteStore, rdb, hub, m)
	if err != nil {
		return err
	}

	var scheduler *alert.Scheduler
	if cfg.Alerts.Schedule {
		scheduler = alert.NewScheduler(scanner, cfg.Alerts.Interval, cfg.Alerts.Interval)
		go scheduler.Start(ctx)
		slog.Info("alert scheduler started", "interval", cfg.Alerts.Interval)
	}

	// A zero rate disables auth rate limiting.
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Auth > 0 {
		limiter = ratelimit.New(cfg.RateLimit.Auth, cfg.RateLimit.Window)
	}
	go janitor(ctx, userStore, limiter)

	router := api.NewRouter(api.RouterDeps{
		Accounts:       guard,
		Users:          userStore,
		Roles:          roles,
		Tasks:          tasks,
		Notifications:  notes,
		Scanner:        scanner,
		Hub:            hub,
		Metrics:        m,
		Limiter:        limiter,
		Sessions:       user.NewAuthAdapter(userStore, roles),
		CookieName:     cfg.Auth.CookieName,
		SecureCookie:   cfg.Auth.SecureCookie,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}

	return srv.Shutdown(shutdownCtx)
}

// janitor drops expired sessions and idle rate limit buckets.
func janitor(ctx context.Context, sessions *user.Store, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.CleanExpiredSessions(ctx)
			if err != nil {
				slog.Error("cleaning expired sessions", "error", err)
			} else if n > 0 {
				slog.Info("cleaned expired sessions", "count", n)
			}
			if limiter != nil {
				if pruned := limiter.Prune(); pruned > 0 {
					slog.Debug("pruned rate limit buckets", "count", pruned)
				}
			}
		}
	}
}
