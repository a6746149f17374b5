// Package alert generates deadline and overdue notifications from task
// state. A scan is idempotent: the notification store refuses a second
// unread notification for the same (user, task, type), so running the
// scanner at any frequency produces each alert once until it is read.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/voicockpit/cockpit/internal/notification"
)

// Pass names one half of a scan.
type Pass string

const (
	PassDeadline Pass = "deadline"
	PassOverdue  Pass = "overdue"
)

// ParsePass converts a CLI or query value into a Pass.
func ParsePass(s string) (Pass, error) {
	switch Pass(s) {
	case PassDeadline, PassOverdue:
		return Pass(s), nil
	}
	return "", fmt.Errorf("unknown alert pass %q (want deadline or overdue)", s)
}

// EventNotificationCreated is published to the recipient for every new row.
const EventNotificationCreated = "notification-created"

const (
	deadlineTitle = "Task Deadline Approaching"
	overdueTitle  = "Task Overdue"
	lockKey       = "cockpit:alerts:scan"
)

// ErrScanInProgress is returned by Run when another scanner holds the lock.
var ErrScanInProgress = errors.New("alert scan already in progress")

// DeadlineRule is the first enabled deadline preference of a user.
type DeadlineRule struct {
	UserID      string
	AdvanceDays int
}

// OpenTask is a task that is not DONE and has a due date.
type OpenTask struct {
	ID      string
	Title   string
	OwnerID string
	DueDate time.Time
}

// Repository reads the task and preference state a scan needs.
type Repository interface {
	DeadlineRules(ctx context.Context) ([]DeadlineRule, error)
	TasksDueBetween(ctx context.Context, ownerID string, from, to time.Time) ([]OpenTask, error)
	OverdueTasks(ctx context.Context, before time.Time) ([]OpenTask, error)
}

// Inserter writes notifications, skipping unread duplicates.
type Inserter interface {
	InsertIfAbsent(ctx context.Context, in notification.NewNotification) (*notification.Notification, bool, error)
}

// Publisher pushes an event to one user's connections.
type Publisher interface {
	Send(userID, eventType string, data any)
}

// Locker provides a best-effort mutual exclusion across replicas.
// Acquire returns ok=false when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Recorder receives scan metrics.
type Recorder interface {
	RecordNotificationCreated(notificationType string)
	RecordScan(pass string, duration time.Duration, err error)
}

// Options configures optional Scanner collaborators. Zero values disable
// them; a nil Location means UTC.
type Options struct {
	Location  *time.Location
	Publisher Publisher
	Locker    Locker
	LockTTL   time.Duration
	Recorder  Recorder
}

// Report summarises one Run.
type Report struct {
	DeadlineCreated int               `json:"deadlineCreated"`
	OverdueCreated  int               `json:"overdueCreated"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// Failed reports whether any pass failed.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// FailedPasses returns the names of the failed passes in order.
func (r *Report) FailedPasses() []string {
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scanner runs the deadline and overdue passes.
type Scanner struct {
	repo  Repository
	notes Inserter
	opts  Options
	now   func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(repo Repository, notes Inserter, opts Options) *Scanner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Scanner{repo: repo, notes: notes, opts: opts, now: time.Now}
}

// today returns local midnight of the current day.
func (s *Scanner) today() time.Time {
	n := s.now().In(s.opts.Location)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.opts.Location)
}

// CheckDeadlines notifies each user with an enabled deadline preference of
// their open tasks due exactly advanceDays from today. It stops at the first
// error; rows created before it are kept.
func (s *Scanner) CheckDeadlines(ctx context.Context) (int, error) {
	rules, err := s.repo.DeadlineRules(ctx)
	if err != nil {
		return 0, err
	}
	today := s.today()
	created := 0
	for _, rule := range rules {
		days := rule.AdvanceDays
		if days <= 0 {
			days = 1
		}
		from := today.AddDate(0, 0, days)
		tasks, err := s.repo.TasksDueBetween(ctx, rule.UserID, from, from.AddDate(0, 0, 1))
		if err != nil {
			return created, err
		}
		for _, t := range tasks {
			ok, err := s.notify(ctx, notification.NewNotification{
				UserID:  rule.UserID,
				TaskID:  t.ID,
				Type:    notification.TypeDeadline,
				Title:   deadlineTitle,
				Message: DeadlineMessage(t.Title, days),
			})
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}

// CheckOverdue notifies owners of open tasks due before the end of today.
// It stops at the first error; rows created before it are kept.
func (s *Scanner) CheckOverdue(ctx context.Context) (int, error) {
	today := s.today()
	tasks, err := s.repo.OverdueTasks(ctx, today.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	created := 0
	for _, t := range tasks {
		ok, err := s.notify(ctx, notification.NewNotification{
			UserID:  t.OwnerID,
			TaskID:  t.ID,
			Type:    notification.TypeOverdue,
			Title:   overdueTitle,
			Message: OverdueMessage(t.Title, DaysOverdue(t.DueDate, today)),
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Scanner) notify(ctx context.Context, in notification.NewNotification) (bool, error) {
	n, created, err := s.notes.InsertIfAbsent(ctx, in)
	if err != nil || !created {
		return false, err
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordNotificationCreated(n.Type)
	}
	if s.opts.Publisher != nil {
		s.opts.Publisher.Send(n.UserID, EventNotificationCreated, n)
	}
	return true, nil
}

// Run executes the given passes, or both when none are given. Each pass runs
// even if an earlier one failed; failures are collected in the report. When
// a Locker is configured and another scan holds the lock, Run returns
// ErrScanInProgress without scanning.
func (s *Scanner) Run(ctx context.Context, passes ...Pass) (*Report, error) {
	if len(passes) == 0 {
		passes = []Pass{PassDeadline, PassOverdue}
	}

	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.Acquire(ctx, lockKey, s.opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring scan lock: %w", err)
		}
		if !ok {
			return nil, ErrScanInProgress
		}
		defer release()
	}

	report := &Report{}
	for _, p := range passes {
		start := time.Now()
		var n int
		var err error
		switch p {
		case PassDeadline:
			n, err = s.CheckDeadlines(ctx)
			report.DeadlineCreated += n
		case PassOverdue:
			n, err = s.CheckOverdue(ctx)
			report.OverdueCreated += n
		default:
			err = fmt.Errorf("unknown alert pass %q", p)
		}
		if s.opts.Recorder != nil {
			s.opts.Recorder.RecordScan(string(p), time.Since(start), err)
		}
		if err != nil {
			slog.Error("alert pass failed", "pass", p, "created", n, "error", err)
			if report.Errors == nil {
				report.Errors = map[string]string{}
			}
			report.Errors[string(p)] = err.Error()
			continue
		}
		slog.Info("alert pass completed", "pass", p, "created", n)
	}
	return report, nil
}

// DaysOverdue counts calendar days from the due date to today, with a
// minimum of one so a task due earlier today is one day overdue.
func DaysOverdue(due, today time.Time) int {
	d := due.In(today.Location())
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	todayDay := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(todayDay.Sub(dueDay).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// DeadlineMessage renders the body of a deadline notification.
func DeadlineMessage(title string, advanceDays int) string {
	if advanceDays == 1 {
		return fmt.Sprintf("Task \"%s\" is due tomorrow", title)
	}
	return fmt.Sprintf("Task \"%s\" is due in %d days", title, advanceDays)
}

// OverdueMessage renders the body of an overdue notification.
func OverdueMessage(title string, days int) string {
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("Task \"%s\" is %d %s overdue", title, days, unit)
}
