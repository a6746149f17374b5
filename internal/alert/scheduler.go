package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner is the part of Scanner the Scheduler drives.
type Runner interface {
	Run(ctx context.Context, passes ...Pass) (*Report, error)
}

// Scheduler runs a full scan once at start and then on every tick.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
}

// NewScheduler creates a Scheduler that scans every interval. Each run is
// bounded by timeout.
func NewScheduler(runner Runner, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start blocks until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// scan logs failures rather than returning them so the loop keeps going.
func (s *Scheduler) scan(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrScanInProgress):
		slog.Debug("alert scan skipped, another replica holds the lock")
	case err != nil:
		slog.Error("scheduled alert scan failed", "error", err)
	case report.Failed():
		slog.Warn("scheduled alert scan finished with errors",
			"deadline_created", report.DeadlineCreated, "overdue_created", report.OverdueCreated, "errors", report.Errors)
	default:
		slog.Info("scheduled alert scan finished",
			"deadline_created", report.DeadlineCreated, "overdue_created", report.OverdueCreated)
	}
}

// Stop signals the background loop to exit.
func (s *Scheduler) Stop() {
	close(s.done)
}
