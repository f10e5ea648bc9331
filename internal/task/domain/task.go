package domain

import "time"

// Priority represents task priority level
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Status represents the current state of a task. The normal lifecycle is
// todo → progress → done, but there is no terminal lock: a later email or a
// user edit may reopen a done task. Accepted business rule.
type Status string

const (
	StatusTodo     Status = "todo"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
)

// Actor identities stamped on created_by / updated_by and history rows.
const (
	ActorAI   = "ai"
	ActorUser = "user"
)

// Task is a tracked work item, created manually or extracted from an email
// thread by the reconciliation pipeline.
type Task struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	UserID      string     `json:"user_id" gorm:"index;not null"`
	Title       string     `json:"title" gorm:"index;not null"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status" gorm:"default:todo"`
	Priority    Priority   `json:"priority" gorm:"default:medium"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	// Provenance. SourceEmailID is set once at creation and never changes.
	SourceEmailID string `json:"source_email_id,omitempty" gorm:"index"`
	EmailSummary  string `json:"email_summary,omitempty"`

	CreatedBy   string     `json:"created_by" gorm:"default:user"` // "ai" or "user"
	UpdatedBy   string     `json:"updated_by" gorm:"default:user"` // "ai" or "user"
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func ParsePriority(p string) Priority {
	switch p {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func ParseStatus(s string) Status {
	switch s {
	case "progress":
		return StatusProgress
	case "done":
		return StatusDone
	default:
		return StatusTodo
	}
}
