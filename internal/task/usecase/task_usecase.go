package usecase

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CafeIT25/pmo-agent/internal/task/domain"
	"github.com/CafeIT25/pmo-agent/internal/task/repository"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// TaskUpdateRequest represents the fields a user can change. Nil means
// leave untouched; an empty due date string clears the date.
type TaskUpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// TaskUsecase is the user-facing task surface. It shares the audit contract
// with the reconciliation pipeline: every mutation writes history rows, the
// only difference is the acting identity.
type TaskUsecase struct {
	taskRepo    repository.TaskRepository
	historyRepo repository.HistoryRepository
	supportRepo repository.AISupportRepository
}

func NewTaskUsecase(taskRepo repository.TaskRepository, historyRepo repository.HistoryRepository, supportRepo repository.AISupportRepository) *TaskUsecase {
	return &TaskUsecase{
		taskRepo:    taskRepo,
		historyRepo: historyRepo,
		supportRepo: supportRepo,
	}
}

// CreateTask creates a task on the user's behalf.
func (u *TaskUsecase) CreateTask(userID, title, description, priority, dueDate string) (*domain.Task, error) {
	if title == "" {
		return nil, errors.New("title is required")
	}

	now := time.Now()
	task := &domain.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Status:      domain.StatusTodo,
		Priority:    domain.ParsePriority(priority),
		CreatedBy:   domain.ActorUser,
		UpdatedBy:   domain.ActorUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if dueDate != "" {
		if t, err := time.Parse(time.RFC3339, dueDate); err == nil {
			task.DueDate = &t
		} else if t, err := time.Parse("2006-01-02", dueDate); err == nil {
			task.DueDate = &t
		}
	}

	history := []*domain.TaskHistory{{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Action:    domain.ActionCreated,
		NewValue:  task.Title,
		ActedBy:   userID,
		CreatedAt: now,
	}}
	if err := u.taskRepo.Create(task, history); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask retrieves a task with an ownership check.
func (u *TaskUsecase) GetTask(userID, taskID string) (*domain.Task, error) {
	task, err := u.taskRepo.FindByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.UserID != userID {
		return nil, ErrUnauthorized
	}
	return task, nil
}

// ListTasks returns all of the user's tasks.
func (u *TaskUsecase) ListTasks(userID string) ([]*domain.Task, error) {
	return u.taskRepo.FindByUserID(userID)
}

// UpdateTask applies a partial edit, writing one history row per changed
// field with the user as the acting identity.
func (u *TaskUsecase) UpdateTask(userID, taskID string, updates TaskUpdateRequest) (*domain.Task, error) {
	task, err := u.GetTask(userID, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var history []*domain.TaskHistory
	appendChange := func(field, oldVal, newVal string) {
		history = append(history, &domain.TaskHistory{
			ID:        uuid.New().String(),
			TaskID:    task.ID,
			Action:    domain.ActionUpdated,
			FieldName: field,
			OldValue:  oldVal,
			NewValue:  newVal,
			ActedBy:   userID,
			CreatedAt: now,
		})
	}

	if updates.Title != nil && *updates.Title != task.Title && *updates.Title != "" {
		appendChange("title", task.Title, *updates.Title)
		task.Title = *updates.Title
	}
	if updates.Description != nil && *updates.Description != task.Description {
		appendChange("description", task.Description, *updates.Description)
		task.Description = *updates.Description
	}
	if updates.Status != nil {
		status := domain.ParseStatus(*updates.Status)
		if status != task.Status {
			appendChange("status", string(task.Status), string(status))
			task.Status = status
			if status == domain.StatusDone {
				task.CompletedAt = &now
			} else {
				task.CompletedAt = nil
			}
		}
	}
	if updates.Priority != nil {
		priority := domain.ParsePriority(*updates.Priority)
		if priority != task.Priority {
			appendChange("priority", string(task.Priority), string(priority))
			task.Priority = priority
		}
	}
	if updates.DueDate != nil {
		if *updates.DueDate == "" {
			if task.DueDate != nil {
				appendChange("due_date", task.DueDate.Format(time.RFC3339), "")
				task.DueDate = nil
			}
		} else if t, err := time.Parse(time.RFC3339, *updates.DueDate); err == nil {
			if task.DueDate == nil || !task.DueDate.Equal(t) {
				old := ""
				if task.DueDate != nil {
					old = task.DueDate.Format(time.RFC3339)
				}
				appendChange("due_date", old, t.Format(time.RFC3339))
				task.DueDate = &t
			}
		}
	}

	if len(history) == 0 {
		return task, nil
	}

	task.UpdatedBy = domain.ActorUser
	task.UpdatedAt = now
	if err := u.taskRepo.Update(task, history); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task with its history and AI records.
func (u *TaskUsecase) DeleteTask(userID, taskID string) error {
	task, err := u.GetTask(userID, taskID)
	if err != nil {
		return err
	}
	return u.taskRepo.Delete(task.ID)
}

// GetTaskHistory returns a task's audit log, oldest first.
func (u *TaskUsecase) GetTaskHistory(userID, taskID string) ([]*domain.TaskHistory, error) {
	if _, err := u.GetTask(userID, taskID); err != nil {
		return nil, err
	}
	return u.historyRepo.FindByTaskID(taskID)
}

// GetTaskAISupports returns the LLM invocation records behind a task.
func (u *TaskUsecase) GetTaskAISupports(userID, taskID string) ([]*domain.AISupport, error) {
	if _, err := u.GetTask(userID, taskID); err != nil {
		return nil, err
	}
	return u.supportRepo.FindByTaskID(taskID)
}
