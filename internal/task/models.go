package task

import "time"

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
	StatusBlocked    Status = "BLOCKED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Risk level of a task.
type Risk string

const (
	RiskLow      Risk = "LOW"
	RiskMedium   Risk = "MEDIUM"
	RiskHigh     Risk = "HIGH"
	RiskCritical Risk = "CRITICAL"
)

// Valid reports whether r is a known risk level.
func (r Risk) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Task is the managed work item.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        *string    `json:"description"`
	Area               string     `json:"area"`
	SubArea            *string    `json:"sub_area"`
	EndProduct         *string    `json:"end_product"`
	OwnerID            string     `json:"owner_id"`
	Owner              *Owner     `json:"owner,omitempty"`
	Priority           Priority   `json:"priority"`
	Status             Status     `json:"status"`
	AcceptanceCriteria *string    `json:"acceptance_criteria"`
	DueDate            *time.Time `json:"due_date"`
	StartDate          *time.Time `json:"start_date"`
	Effort             *int       `json:"effort"`
	Risk               *Risk      `json:"risk"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Subtasks []*Subtask `json:"subtasks,omitempty"`
	Comments []*Comment `json:"comments,omitempty"`
}

// Owner is the user summary embedded in a task.
type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Subtask is a checklist item of a task.
type Subtask struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a note left on a task.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity is an entry in the activity feed.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	TaskID    *string   `json:"task_id"`
	TaskTitle *string   `json:"task_title,omitempty"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateTaskInput holds the fields accepted when creating a task.
type CreateTaskInput struct {
	Title              string     `json:"title"`
	Description        *string    `json:"description,omitempty"`
	Area               string     `json:"area"`
	SubArea            *string    `json:"sub_area,omitempty"`
	EndProduct         *string    `json:"end_product,omitempty"`
	OwnerID            string     `json:"owner"`
	Priority           Priority   `json:"priority,omitempty"`
	Status             Status     `json:"status,omitempty"`
	AcceptanceCriteria *string    `json:"acceptance_criteria,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	Effort             *int       `json:"effort,omitempty"`
	Risk               *Risk      `json:"risk,omitempty"`
}

// UpdateTaskInput holds optional fields for a partial task update.
type UpdateTaskInput struct {
	Title              *string    `json:"title,omitempty"`
	Description        *string    `json:"description,omitempty"`
	Area               *string    `json:"area,omitempty"`
	SubArea            *string    `json:"sub_area,omitempty"`
	EndProduct         *string    `json:"end_product,omitempty"`
	OwnerID            *string    `json:"owner,omitempty"`
	Priority           *Priority  `json:"priority,omitempty"`
	Status             *Status    `json:"status,omitempty"`
	AcceptanceCriteria *string    `json:"acceptance_criteria,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	Effort             *int       `json:"effort,omitempty"`
	Risk               *Risk      `json:"risk,omitempty"`
}

// SearchParams filters a search over the caller's own tasks.
type SearchParams struct {
	Query    string     `json:"query"`
	Status   Status     `json:"status,omitempty"`
	Priority Priority   `json:"priority,omitempty"`
	Area     string     `json:"area,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
}

// SubtaskUpdate holds optional fields for a subtask update.
type SubtaskUpdate struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}
