package domain

import "time"

// HistoryAction classifies a TaskHistory row.
type HistoryAction string

const (
	ActionCreated HistoryAction = "created"
	ActionUpdated HistoryAction = "updated"
	ActionDeleted HistoryAction = "deleted"
)

// TaskHistory is the append-only audit log. Every mutation produces one row
// per changed field with old/new values and the acting identity (a user id
// or "ai"). Rows are only removed when their task is deleted.
type TaskHistory struct {
	ID        string        `json:"id" gorm:"primaryKey"`
	TaskID    string        `json:"task_id" gorm:"index;not null"`
	Action    HistoryAction `json:"action" gorm:"not null"`
	FieldName string        `json:"field_name"`
	OldValue  string        `json:"old_value,omitempty"`
	NewValue  string        `json:"new_value,omitempty"`
	ActedBy   string        `json:"acted_by" gorm:"not null"`
	CreatedAt time.Time     `json:"created_at"`
}

// AISupportType is the prompt class of an LLM invocation.
type AISupportType string

const SupportThreadAnalysis AISupportType = "thread_analysis"

// AISupport is the append-only record of an LLM invocation tied to a task.
// ThreadKey groups records belonging to one email conversation.
type AISupport struct {
	ID          string        `json:"id" gorm:"primaryKey"`
	TaskID      string        `json:"task_id" gorm:"index;not null"`
	ThreadKey   string        `json:"thread_key,omitempty" gorm:"index"`
	RequestType AISupportType `json:"request_type"`
	Prompt      string        `json:"prompt"`
	Response    string        `json:"response"`
	ModelID     string        `json:"model_id"`
	Cost        float64       `json:"cost"`
	CreatedAt   time.Time     `json:"created_at"`
}
