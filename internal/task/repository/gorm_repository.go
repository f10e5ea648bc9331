package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CafeIT25/pmo-agent/internal/task/domain"
)

// gormTaskRepository implements TaskRepository using GORM
type gormTaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &gormTaskRepository{db: db}
}

func (r *gormTaskRepository) Create(task *domain.Task, history []*domain.TaskHistory) error {
	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		for _, h := range history {
			fillHistory(h, task.ID, now)
			if err := tx.Create(h).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormTaskRepository) Update(task *domain.Task, history []*domain.TaskHistory) error {
	now := time.Now()
	task.UpdatedAt = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(task).Error; err != nil {
			return err
		}
		// History rows inserted in field-change order.
		for _, h := range history {
			fillHistory(h, task.ID, now)
			if err := tx.Create(h).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormTaskRepository) FindByID(id string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.Where("id = ?", id).First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *gormTaskRepository) FindByUserID(userID string) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := r.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&tasks).Error
	return tasks, err
}

func (r *gormTaskRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.TaskHistory{}, "task_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.AISupport{}, "task_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Task{}, "id = ?", id).Error
	})
}

func fillHistory(h *domain.TaskHistory, taskID string, now time.Time) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.TaskID = taskID
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
}

// gormHistoryRepository implements HistoryRepository using GORM
type gormHistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &gormHistoryRepository{db: db}
}

func (r *gormHistoryRepository) FindByTaskID(taskID string) ([]*domain.TaskHistory, error) {
	var rows []*domain.TaskHistory
	err := r.db.Where("task_id = ?", taskID).Order("created_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// gormAISupportRepository implements AISupportRepository using GORM
type gormAISupportRepository struct {
	db *gorm.DB
}

func NewAISupportRepository(db *gorm.DB) AISupportRepository {
	return &gormAISupportRepository{db: db}
}

func (r *gormAISupportRepository) Create(support *domain.AISupport) error {
	if support.ID == "" {
		support.ID = uuid.New().String()
	}
	if support.CreatedAt.IsZero() {
		support.CreatedAt = time.Now()
	}
	return r.db.Create(support).Error
}

func (r *gormAISupportRepository) FindByTaskID(taskID string) ([]*domain.AISupport, error) {
	var rows []*domain.AISupport
	err := r.db.Where("task_id = ?", taskID).Order("created_at DESC").Find(&rows).Error
	return rows, err
}
