package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicockpit/cockpit/internal/apperr"
)

const taskColumns = `t.id, t.title, t.description, t.area, t.sub_area, t.end_product, t.owner_id,
	t.priority, t.status, t.acceptance_criteria, t.due_date, t.start_date, t.effort, t.risk,
	t.created_at, t.updated_at, u.name, u.email`

const taskFrom = ` FROM tasks t JOIN users u ON u.id = t.owner_id`

// Store provides database operations for tasks and their children.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new task store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanTask(scan func(dest ...any) error) (*Task, error) {
	t := &Task{Owner: &Owner{}}
	var priority, status string
	var risk *string
	err := scan(&t.ID, &t.Title, &t.Description, &t.Area, &t.SubArea, &t.EndProduct, &t.OwnerID,
		&priority, &status, &t.AcceptanceCriteria, &t.DueDate, &t.StartDate, &t.Effort, &risk,
		&t.CreatedAt, &t.UpdatedAt, &t.Owner.Name, &t.Owner.Email)
	if err != nil {
		return nil, err
	}
	t.Owner.ID = t.OwnerID
	t.Priority = Priority(priority)
	t.Status = Status(status)
	if risk != nil {
		r := Risk(*risk)
		t.Risk = &r
	}
	return t, nil
}

func riskArg(r *Risk) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

// OwnerExists reports whether a user with the given id exists.
func (s *Store) OwnerExists(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking owner: %w", err)
	}
	return ok, nil
}

// Create inserts a new task.
func (s *Store) Create(ctx context.Context, in CreateTaskInput) (*Task, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, title, description, area, sub_area, end_product, owner_id, priority, status,
		                    acceptance_criteria, due_date, start_date, effort, risk)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, in.Title, in.Description, in.Area, in.SubArea, in.EndProduct, in.OwnerID,
		string(in.Priority), string(in.Status), in.AcceptanceCriteria, in.DueDate, in.StartDate, in.Effort, riskArg(in.Risk),
	)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", apperr.FromDB(err))
	}
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(func(dest ...any) error {
		return s.pool.QueryRow(ctx, `SELECT `+taskColumns+taskFrom+` WHERE t.id = $1`, id).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", apperr.FromDB(err))
	}
	return t, nil
}

// Get retrieves a task with its subtasks and comments.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("getting task: %w", apperr.ErrNotFound)
	}
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Subtasks, err = s.listSubtasks(ctx, id); err != nil {
		return nil, err
	}
	if t.Comments, err = s.ListComments(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns all tasks, newest first.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+taskFrom+` ORDER BY t.created_at DESC`)
}

// Search returns the owner's tasks matching params, newest first.
func (s *Store) Search(ctx context.Context, ownerID string, p SearchParams) ([]*Task, error) {
	where := []string{"t.owner_id = $1"}
	args := []any{ownerID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q := strings.TrimSpace(p.Query); q != "" {
		add(`(t.title ILIKE $%[1]d OR t.description ILIKE $%[1]d OR t.area ILIKE $%[1]d OR t.sub_area ILIKE $%[1]d)`,
			"%"+escapeLike(q)+"%")
	}
	if p.Status != "" {
		add("t.status = $%d", string(p.Status))
	}
	if p.Priority != "" {
		add("t.priority = $%d", string(p.Priority))
	}
	if a := strings.TrimSpace(p.Area); a != "" {
		add("t.area ILIKE $%d", "%"+escapeLike(a)+"%")
	}
	if p.DateFrom != nil {
		add("t.created_at >= $%d", *p.DateFrom)
	}
	if p.DateTo != nil {
		add("t.created_at <= $%d", *p.DateTo)
	}

	return s.query(ctx,
		`SELECT `+taskColumns+taskFrom+` WHERE `+strings.Join(where, " AND ")+` ORDER BY t.created_at DESC`,
		args...)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Update performs a partial update on a task.
func (s *Store) Update(ctx context.Context, id string, in UpdateTaskInput) (*Task, error) {
	var setClauses []string
	var args []any
	set := func(column string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if in.Title != nil {
		set("title", *in.Title)
	}
	if in.Description != nil {
		set("description", *in.Description)
	}
	if in.Area != nil {
		set("area", *in.Area)
	}
	if in.SubArea != nil {
		set("sub_area", *in.SubArea)
	}
	if in.EndProduct != nil {
		set("end_product", *in.EndProduct)
	}
	if in.OwnerID != nil {
		set("owner_id", *in.OwnerID)
	}
	if in.Priority != nil {
		set("priority", string(*in.Priority))
	}
	if in.Status != nil {
		set("status", string(*in.Status))
	}
	if in.AcceptanceCriteria != nil {
		set("acceptance_criteria", *in.AcceptanceCriteria)
	}
	if in.DueDate != nil {
		set("due_date", *in.DueDate)
	}
	if in.StartDate != nil {
		set("start_date", *in.StartDate)
	}
	if in.Effort != nil {
		set("effort", *in.Effort)
	}
	if in.Risk != nil {
		set("risk", string(*in.Risk))
	}

	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		args = append(args, id)
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), len(args)),
			args...)
		if err != nil {
			return nil, fmt.Errorf("updating task: %w", apperr.FromDB(err))
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("updating task: %w", apperr.ErrNotFound)
		}
	}
	return s.get(ctx, id)
}

// Delete removes a task; subtasks, comments and notifications cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting task: %w", apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) listSubtasks(ctx context.Context, taskID string) ([]*Subtask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, title, completed, created_at FROM subtasks WHERE task_id = $1 ORDER BY created_at`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("listing subtasks: %w", err)
	}
	defer rows.Close()

	subtasks := []*Subtask{}
	for rows.Next() {
		st := &Subtask{}
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subtask row: %w", err)
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, rows.Err()
}

// AddSubtask appends a subtask to a task.
func (s *Store) AddSubtask(ctx context.Context, taskID, title string) (*Subtask, error) {
	st := &Subtask{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subtasks (id, task_id, title) VALUES ($1, $2, $3)
		 RETURNING id, task_id, title, completed, created_at`,
		uuid.NewString(), taskID, title,
	).Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("adding subtask: %w", apperr.FromDB(err))
	}
	return st, nil
}

// UpdateSubtask renames or toggles a subtask of the given task.
func (s *Store) UpdateSubtask(ctx context.Context, taskID, subtaskID string, in SubtaskUpdate) (*Subtask, error) {
	st := &Subtask{}
	err := s.pool.QueryRow(ctx,
		`UPDATE subtasks SET title = COALESCE($3, title), completed = COALESCE($4, completed)
		 WHERE task_id = $1 AND id = $2
		 RETURNING id, task_id, title, completed, created_at`,
		taskID, subtaskID, in.Title, in.Completed,
	).Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating subtask: %w", apperr.FromDB(err))
	}
	return st, nil
}

// DeleteSubtask removes a subtask of the given task.
func (s *Store) DeleteSubtask(ctx context.Context, taskID, subtaskID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subtasks WHERE task_id = $1 AND id = $2`, taskID, subtaskID)
	if err != nil {
		return fmt.Errorf("deleting subtask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting subtask: %w", apperr.ErrNotFound)
	}
	return nil
}

// AddComment stores a comment by userID on a task.
func (s *Store) AddComment(ctx context.Context, taskID, userID, content string) (*Comment, error) {
	c := &Comment{}
	err := s.pool.QueryRow(ctx,
		`WITH c AS (
		     INSERT INTO comments (id, task_id, user_id, content) VALUES ($1, $2, $3, $4)
		     RETURNING id, task_id, user_id, content, created_at
		 )
		 SELECT c.id, c.task_id, c.user_id, u.name, c.content, c.created_at
		 FROM c JOIN users u ON u.id = c.user_id`,
		uuid.NewString(), taskID, userID, content,
	).Scan(&c.ID, &c.TaskID, &c.UserID, &c.UserName, &c.Content, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("adding comment: %w", apperr.FromDB(err))
	}
	return c, nil
}

// ListComments returns a task's comments, newest first.
func (s *Store) ListComments(ctx context.Context, taskID string) ([]*Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.task_id, c.user_id, u.name, c.content, c.created_at
		 FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.task_id = $1 ORDER BY c.created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	comments := []*Comment{}
	for rows.Next() {
		c := &Comment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.UserName, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning comment row: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AddActivity appends an entry to the activity feed.
func (s *Store) AddActivity(ctx context.Context, a Activity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (id, type, message, task_id, user_id) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), a.Type, a.Message, a.TaskID, a.UserID)
	if err != nil {
		return fmt.Errorf("adding activity: %w", err)
	}
	return nil
}

// RecentActivities returns the newest activities with task and user names.
func (s *Store) RecentActivities(ctx context.Context, limit int) ([]*Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.type, a.message, a.task_id, t.title, a.user_id, u.name, a.created_at
		 FROM activities a
		 JOIN users u ON u.id = a.user_id
		 LEFT JOIN tasks t ON t.id = a.task_id
		 ORDER BY a.created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	activities := []*Activity{}
	for rows.Next() {
		a := &Activity{}
		if err := rows.Scan(&a.ID, &a.Type, &a.Message, &a.TaskID, &a.TaskTitle, &a.UserID, &a.UserName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
