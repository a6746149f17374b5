package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voicockpit/cockpit/internal/apperr"
)

// Validation errors returned by the Service layer.
var (
	ErrInvalidIDs        = fmt.Errorf("%w: invalid notification IDs", apperr.ErrValidation)
	ErrInvalidAction     = fmt.Errorf("%w: invalid action", apperr.ErrValidation)
	ErrInvalidPrefType   = fmt.Errorf("%w: preference type must be deadline or overdue", apperr.ErrValidation)
	ErrInvalidAdvanceDay = fmt.Errorf("%w: advance_days must be between 0 and 365", apperr.ErrValidation)
)

// Actions accepted by Apply.
const (
	ActionMarkRead   = "markRead"
	ActionMarkUnread = "markUnread"
	ActionDelete     = "delete"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Repository is the persistence contract of the Service.
type Repository interface {
	List(ctx context.Context, userID string, params ListParams) ([]*Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	MarkUnread(ctx context.Context, userID string, ids []string) (int64, error)
	Delete(ctx context.Context, userID string, ids []string) (int64, error)
	ListPreferences(ctx context.Context, userID string) ([]*Preference, error)
	SavePreference(ctx context.Context, userID string, in PreferenceInput) (*Preference, error)
}

// Service exposes a user's inbox and alert preferences.
type Service struct {
	repo Repository
}

// NewService creates a new Service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Inbox lists the user's notifications with the unread count. A limit of
// zero or less means the default of 50.
func (s *Service) Inbox(ctx context.Context, userID string, params ListParams) (*Inbox, error) {
	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}
	if params.Limit > maxLimit {
		params.Limit = maxLimit
	}
	list, err := s.repo.List(ctx, userID, params)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Inbox{Notifications: list, UnreadCount: unread, Total: len(list)}, nil
}

// Apply runs action over the user's notifications in ids. Ids belonging to
// other users are ignored. It returns the number of rows changed.
func (s *Service) Apply(ctx context.Context, userID, action string, ids []string) (int64, error) {
	if ids == nil {
		return 0, ErrInvalidIDs
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return 0, ErrInvalidIDs
		}
	}
	switch action {
	case ActionMarkRead:
		return s.repo.MarkRead(ctx, userID, ids)
	case ActionMarkUnread:
		return s.repo.MarkUnread(ctx, userID, ids)
	case ActionDelete:
		return s.repo.Delete(ctx, userID, ids)
	}
	return 0, ErrInvalidAction
}

// Preferences returns the user's alert preferences.
func (s *Service) Preferences(ctx context.Context, userID string) ([]*Preference, error) {
	return s.repo.ListPreferences(ctx, userID)
}

// SavePreference validates and stores one alert preference.
func (s *Service) SavePreference(ctx context.Context, userID string, in PreferenceInput) (*Preference, error) {
	if in.Type != PreferenceDeadline && in.Type != PreferenceOverdue {
		return nil, ErrInvalidPrefType
	}
	if in.AdvanceDays < 0 || in.AdvanceDays > 365 {
		return nil, ErrInvalidAdvanceDay
	}
	return s.repo.SavePreference(ctx, userID, in)
}
