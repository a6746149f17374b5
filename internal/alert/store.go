package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads scan input from Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new alert store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// DeadlineRules returns, per user, the oldest enabled deadline preference.
func (s *Store) DeadlineRules(ctx context.Context) ([]DeadlineRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (user_id) user_id, advance_days
		 FROM alert_preferences
		 WHERE type = 'deadline' AND is_enabled
		 ORDER BY user_id, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing deadline preferences: %w", err)
	}
	defer rows.Close()

	var rules []DeadlineRule
	for rows.Next() {
		var r DeadlineRule
		if err := rows.Scan(&r.UserID, &r.AdvanceDays); err != nil {
			return nil, fmt.Errorf("scanning deadline preference: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// TasksDueBetween returns the owner's open tasks with from <= due_date < to.
func (s *Store) TasksDueBetween(ctx context.Context, ownerID string, from, to time.Time) ([]OpenTask, error) {
	return s.openTasks(ctx,
		`SELECT id, title, owner_id, due_date FROM tasks
		 WHERE owner_id = $1 AND status <> 'DONE' AND due_date >= $2 AND due_date < $3
		 ORDER BY due_date, id`,
		ownerID, from, to)
}

// OverdueTasks returns every open task due strictly before the given instant.
func (s *Store) OverdueTasks(ctx context.Context, before time.Time) ([]OpenTask, error) {
	return s.openTasks(ctx,
		`SELECT id, title, owner_id, due_date FROM tasks
		 WHERE status <> 'DONE' AND due_date < $1
		 ORDER BY due_date, id`,
		before)
}

func (s *Store) openTasks(ctx context.Context, sql string, args ...any) ([]OpenTask, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []OpenTask
	for rows.Next() {
		var t OpenTask
		if err := rows.Scan(&t.ID, &t.Title, &t.OwnerID, &t.DueDate); err != nil {
			return nil, fmt.Errorf("scanning open task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
