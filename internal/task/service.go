package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voicockpit/cockpit/internal/apperr"
)

// Validation errors returned by the Service layer.
var (
	ErrFieldsRequired  = fmt.Errorf("%w: Title and Area are required", apperr.ErrValidation)
	ErrOwnerRequired   = fmt.Errorf("%w: Owner is required", apperr.ErrValidation)
	ErrInvalidOwner    = fmt.Errorf("%w: Invalid owner selected", apperr.ErrValidation)
	ErrInvalidPriority = fmt.Errorf("%w: invalid priority", apperr.ErrValidation)
	ErrInvalidStatus   = fmt.Errorf("%w: invalid status", apperr.ErrValidation)
	ErrInvalidRisk     = fmt.Errorf("%w: invalid risk", apperr.ErrValidation)
	ErrInvalidEffort   = fmt.Errorf("%w: effort must not be negative", apperr.ErrValidation)
	ErrSubtaskTitle    = fmt.Errorf("%w: subtask title is required", apperr.ErrValidation)
	ErrCommentRequired = fmt.Errorf("%w: comment content is required", apperr.ErrValidation)
	ErrEmptyTaskUpdate = fmt.Errorf("%w: title and area cannot be empty", apperr.ErrValidation)
)

// Activity types written to the feed.
const (
	ActivityCreated = "created"
	ActivityUpdated = "updated"
)

// Realtime event types published by the Service.
const (
	EventCreated = "task-created"
	EventUpdated = "task-updated"
	EventDeleted = "task-deleted"
)

// RecentActivityLimit is how many feed entries Activities returns.
const RecentActivityLimit = 50

// Repository is the persistence contract of the Service.
type Repository interface {
	OwnerExists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, in CreateTaskInput) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	Update(ctx context.Context, id string, in UpdateTaskInput) (*Task, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, ownerID string, p SearchParams) ([]*Task, error)
	AddSubtask(ctx context.Context, taskID, title string) (*Subtask, error)
	UpdateSubtask(ctx context.Context, taskID, subtaskID string, in SubtaskUpdate) (*Subtask, error)
	DeleteSubtask(ctx context.Context, taskID, subtaskID string) error
	AddComment(ctx context.Context, taskID, userID, content string) (*Comment, error)
	ListComments(ctx context.Context, taskID string) ([]*Comment, error)
	AddActivity(ctx context.Context, a Activity) error
	RecentActivities(ctx context.Context, limit int) ([]*Activity, error)
}

// Publisher pushes task events to connected clients.
type Publisher interface {
	Broadcast(eventType string, data any)
}

// Service implements task management on top of a Repository.
type Service struct {
	repo      Repository
	publisher Publisher
}

// NewService creates a new Service. publisher may be nil.
func NewService(repo Repository, publisher Publisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

func (s *Service) publish(eventType string, data any) {
	if s.publisher != nil {
		s.publisher.Broadcast(eventType, data)
	}
}

// record writes a feed entry. A failed write is logged; the task change
// itself has already been committed.
func (s *Service) record(ctx context.Context, typ, message, taskID, userID string) {
	id := taskID
	err := s.repo.AddActivity(ctx, Activity{Type: typ, Message: message, TaskID: &id, UserID: userID})
	if err != nil {
		slog.Error("recording activity", "task_id", taskID, "type", typ, "error", err)
	}
}

func validateEnums(priority *Priority, status *Status, risk *Risk, effort *int) error {
	if priority != nil && !priority.Valid() {
		return ErrInvalidPriority
	}
	if status != nil && !status.Valid() {
		return ErrInvalidStatus
	}
	if risk != nil && !risk.Valid() {
		return ErrInvalidRisk
	}
	if effort != nil && *effort < 0 {
		return ErrInvalidEffort
	}
	return nil
}

func (s *Service) checkOwner(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrOwnerRequired
	}
	ok, err := s.repo.OwnerExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOwner
	}
	return nil
}

// Create validates and stores a new task on behalf of actorID.
func (s *Service) Create(ctx context.Context, actorID string, in CreateTaskInput) (*Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Area = strings.TrimSpace(in.Area)
	if in.Title == "" || in.Area == "" {
		return nil, ErrFieldsRequired
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.Status == "" {
		in.Status = StatusTodo
	}
	if err := validateEnums(&in.Priority, &in.Status, in.Risk, in.Effort); err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	t, err := s.repo.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ActivityCreated, fmt.Sprintf("Task \"%s\" was created", t.Title), t.ID, actorID)
	s.publish(EventCreated, t)
	return t, nil
}

// Get returns a task with its subtasks and comments.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if err := apperr.CheckID("getting task", id); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// List returns every task, newest first.
func (s *Service) List(ctx context.Context) ([]*Task, error) {
	return s.repo.List(ctx)
}

// Update applies a partial update. Fields absent from in are left as they
// are. Changes to title, status, priority or owner are written to the feed.
func (s *Service) Update(ctx context.Context, actorID, id string, in UpdateTaskInput) (*Task, error) {
	if in.Title != nil {
		*in.Title = strings.TrimSpace(*in.Title)
		if *in.Title == "" {
			return nil, ErrEmptyTaskUpdate
		}
	}
	if in.Area != nil {
		*in.Area = strings.TrimSpace(*in.Area)
		if *in.Area == "" {
			return nil, ErrEmptyTaskUpdate
		}
	}
	if err := validateEnums(in.Priority, in.Status, in.Risk, in.Effort); err != nil {
		return nil, err
	}

	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.OwnerID != nil && *in.OwnerID != before.OwnerID {
		if err := s.checkOwner(ctx, *in.OwnerID); err != nil {
			return nil, err
		}
	}

	after, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	if changes := describeChanges(before, after); len(changes) > 0 {
		msg := fmt.Sprintf("Task \"%s\" was updated: %s", after.Title, strings.Join(changes, ", "))
		s.record(ctx, ActivityUpdated, msg, after.ID, actorID)
	}
	s.publish(EventUpdated, after)
	return after, nil
}

func describeChanges(before, after *Task) []string {
	var changes []string
	if before.Title != after.Title {
		changes = append(changes, fmt.Sprintf("title changed to \"%s\"", after.Title))
	}
	if before.Status != after.Status {
		changes = append(changes, fmt.Sprintf("status changed to \"%s\"", after.Status))
	}
	if before.Priority != after.Priority {
		changes = append(changes, fmt.Sprintf("priority changed to \"%s\"", after.Priority))
	}
	if before.OwnerID != after.OwnerID {
		changes = append(changes, "owner changed")
	}
	return changes
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := apperr.CheckID("deleting task", id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(EventDeleted, map[string]string{"id": id})
	return nil
}

// Search looks through the tasks owned by ownerID.
func (s *Service) Search(ctx context.Context, ownerID string, p SearchParams) ([]*Task, error) {
	if p.Status != "" && !p.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return nil, ErrInvalidPriority
	}
	return s.repo.Search(ctx, ownerID, p)
}

// AddSubtask appends a subtask to an existing task.
func (s *Service) AddSubtask(ctx context.Context, taskID, title string) (*Subtask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrSubtaskTitle
	}
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.AddSubtask(ctx, taskID, title)
}

// UpdateSubtask renames a subtask or toggles its completion.
func (s *Service) UpdateSubtask(ctx context.Context, taskID, subtaskID string, in SubtaskUpdate) (*Subtask, error) {
	if in.Title != nil {
		*in.Title = strings.TrimSpace(*in.Title)
		if *in.Title == "" {
			return nil, ErrSubtaskTitle
		}
	}
	if err := subtaskIDs(taskID, subtaskID); err != nil {
		return nil, err
	}
	return s.repo.UpdateSubtask(ctx, taskID, subtaskID, in)
}

// DeleteSubtask removes a subtask.
func (s *Service) DeleteSubtask(ctx context.Context, taskID, subtaskID string) error {
	if err := subtaskIDs(taskID, subtaskID); err != nil {
		return err
	}
	return s.repo.DeleteSubtask(ctx, taskID, subtaskID)
}

func subtaskIDs(taskID, subtaskID string) error {
	if err := apperr.CheckID("subtask", taskID); err != nil {
		return err
	}
	return apperr.CheckID("subtask", subtaskID)
}

// AddComment stores a comment by userID on an existing task.
func (s *Service) AddComment(ctx context.Context, taskID, userID, content string) (*Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrCommentRequired
	}
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.AddComment(ctx, taskID, userID, content)
}

// Comments lists the comments of an existing task.
func (s *Service) Comments(ctx context.Context, taskID string) ([]*Comment, error) {
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, taskID)
}

// Activities returns the most recent feed entries.
func (s *Service) Activities(ctx context.Context) ([]*Activity, error) {
	return s.repo.RecentActivities(ctx, RecentActivityLimit)
}
