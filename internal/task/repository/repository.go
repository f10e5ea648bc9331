package repository

import (
	"github.com/CafeIT25/pmo-agent/internal/task/domain"
)

// TaskRepository defines task data access. Mutations take their audit rows
// so task and history land in one transaction: a task write without its
// history must be impossible.
type TaskRepository interface {
	// Create inserts a task together with its history rows
	Create(task *domain.Task, history []*domain.TaskHistory) error

	// Update saves a modified task together with its per-field history rows
	Update(task *domain.Task, history []*domain.TaskHistory) error

	// FindByID finds a task by its ID, (nil, nil) when absent
	FindByID(id string) (*domain.Task, error)

	// FindByUserID returns all of a user's tasks in stable creation order
	FindByUserID(userID string) ([]*domain.Task, error)

	// Delete removes a task and, cascading, its history and AI support rows
	Delete(id string) error
}

// HistoryRepository reads the audit log.
type HistoryRepository interface {
	FindByTaskID(taskID string) ([]*domain.TaskHistory, error)
}

// AISupportRepository appends and reads LLM invocation records.
type AISupportRepository interface {
	Create(support *domain.AISupport) error
	FindByTaskID(taskID string) ([]*domain.AISupport, error)
}
