package notification

import "time"

// Notification types produced by the alert scanner.
const (
	TypeDeadline = "deadline_alert"
	TypeOverdue  = "overdue_task"
)

// Notification is a message addressed to one user about one task.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	IsSent    bool      `json:"is_sent"`
	CreatedAt time.Time `json:"created_at"`
	Task      *TaskRef  `json:"task,omitempty"`
}

// TaskRef is the task summary embedded in listed notifications.
type TaskRef struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Status  string     `json:"status"`
	DueDate *time.Time `json:"due_date"`
}

// NewNotification holds the fields of a notification to insert.
type NewNotification struct {
	UserID  string
	TaskID  string
	Type    string
	Title   string
	Message string
}

// ListParams filters a user's notifications.
type ListParams struct {
	UnreadOnly bool
	Limit      int
}

// Inbox is the response of a notification listing.
type Inbox struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unreadCount"`
	Total         int             `json:"total"`
}

// Preference types.
const (
	PreferenceDeadline = "deadline"
	PreferenceOverdue  = "overdue"
)

// Preference is a per-user alert setting.
type Preference struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	IsEnabled   bool      `json:"is_enabled"`
	AdvanceDays int       `json:"advance_days"`
	CreatedAt   time.Time `json:"created_at"`
}

// PreferenceInput sets one alert preference.
type PreferenceInput struct {
	Type        string `json:"type"`
	IsEnabled   bool   `json:"is_enabled"`
	AdvanceDays int    `json:"advance_days"`
}
