package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `n.id, n.user_id, n.task_id, n.type, n.title, n.message, n.is_read, n.is_sent, n.created_at`

// Store provides database operations for notifications and alert preferences.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new notification store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanNotification(scan func(dest ...any) error) (*Notification, error) {
	n := &Notification{}
	err := scan(&n.ID, &n.UserID, &n.TaskID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.IsSent, &n.CreatedAt)
	return n, err
}

// InsertIfAbsent creates a notification unless an unread one with the same
// (user, task, type) exists. The partial unique index makes the check and
// the insert a single atomic statement. created is false when skipped.
func (s *Store) InsertIfAbsent(ctx context.Context, in NewNotification) (n *Notification, created bool, err error) {
	n, err = scanNotification(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO notifications AS n (id, user_id, task_id, type, title, message)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (user_id, task_id, type) WHERE NOT is_read DO NOTHING
			 RETURNING `+notificationColumns,
			uuid.NewString(), in.UserID, in.TaskID, in.Type, in.Title, in.Message,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("inserting notification: %w", err)
	}
	return n, true, nil
}

// List returns a user's notifications newest first, with a task summary.
func (s *Store) List(ctx context.Context, userID string, params ListParams) ([]*Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+`, t.id, t.title, t.status, t.due_date
		 FROM notifications n JOIN tasks t ON t.id = n.task_id
		 WHERE n.user_id = $1 AND (NOT $2 OR NOT n.is_read)
		 ORDER BY n.created_at DESC
		 LIMIT $3`,
		userID, params.UnreadOnly, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	list := []*Notification{}
	for rows.Next() {
		ref := &TaskRef{}
		n, err := scanNotification(func(dest ...any) error {
			return rows.Scan(append(dest, &ref.ID, &ref.Title, &ref.Status, &ref.DueDate)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		n.Task = ref
		list = append(list, n)
	}
	return list, rows.Err()
}

// CountUnread returns the number of unread notifications of a user.
func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks the given notifications of a user as read.
func (s *Store) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND id = ANY($2) AND NOT is_read`,
		userID, ids)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkUnread marks the given notifications of a user as unread. A row is
// skipped when doing so would leave two unread notifications for the same
// (user, task, type); among several selected rows of one triple only the
// newest is reopened.
func (s *Store) MarkUnread(ctx context.Context, userID string, ids []string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications n SET is_read = FALSE
		 WHERE n.id IN (
		     SELECT DISTINCT ON (c.task_id, c.type) c.id
		     FROM notifications c
		     WHERE c.user_id = $1 AND c.id = ANY($2) AND c.is_read
		     ORDER BY c.task_id, c.type, c.created_at DESC
		 )
		 AND NOT EXISTS (
		     SELECT 1 FROM notifications o
		     WHERE o.user_id = n.user_id AND o.task_id = n.task_id AND o.type = n.type AND NOT o.is_read
		 )`,
		userID, ids)
	if err != nil {
		return 0, fmt.Errorf("marking notifications unread: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes the given notifications of a user.
func (s *Store) Delete(ctx context.Context, userID string, ids []string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPreferences returns a user's alert preferences, oldest first.
func (s *Store) ListPreferences(ctx context.Context, userID string) ([]*Preference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, is_enabled, advance_days, created_at
		 FROM alert_preferences WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing alert preferences: %w", err)
	}
	defer rows.Close()

	prefs := []*Preference{}
	for rows.Next() {
		p := &Preference{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Type, &p.IsEnabled, &p.AdvanceDays, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert preference row: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SavePreference updates the user's first preference of the given type, or
// creates one when none exists.
func (s *Store) SavePreference(ctx context.Context, userID string, in PreferenceInput) (*Preference, error) {
	p := &Preference{}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE alert_preferences SET is_enabled = $3, advance_days = $4
			 WHERE id = (SELECT id FROM alert_preferences WHERE user_id = $1 AND type = $2
			             ORDER BY created_at, id LIMIT 1)
			 RETURNING id, user_id, type, is_enabled, advance_days, created_at`,
			userID, in.Type, in.IsEnabled, in.AdvanceDays,
		).Scan(&p.ID, &p.UserID, &p.Type, &p.IsEnabled, &p.AdvanceDays, &p.CreatedAt)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO alert_preferences (id, user_id, type, is_enabled, advance_days)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, user_id, type, is_enabled, advance_days, created_at`,
			uuid.NewString(), userID, in.Type, in.IsEnabled, in.AdvanceDays,
		).Scan(&p.ID, &p.UserID, &p.Type, &p.IsEnabled, &p.AdvanceDays, &p.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("saving alert preference: %w", err)
	}
	return p, nil
}
