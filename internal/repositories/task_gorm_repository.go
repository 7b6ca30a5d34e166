package repositories

import (
	"context"
	"errors"
	"fmt"

	"taskhub/internal/apperror"
	"taskhub/internal/models"

	"gorm.io/gorm"
)

// GORMTaskRepository is a GORM implementation of TaskRepository.
type GORMTaskRepository struct {
	db *gorm.DB
}

// NewGORMTaskRepository creates a new instance of GORMTaskRepository.
func NewGORMTaskRepository(db *gorm.DB) *GORMTaskRepository {
	return &GORMTaskRepository{
		db: db,
	}
}

// GetAll retrieves all tasks from the database.
func (r *GORMTaskRepository) GetAll(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to get all tasks: %w", err)
	}
	return tasks, nil
}

// GetByID retrieves a single task by its ID from the database.
func (r *GORMTaskRepository) GetByID(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperror.NotFoundError{Kind: "task", ID: id}
		}
		return nil, fmt.Errorf("failed to get task by ID %d: %w", id, err)
	}
	return &task, nil
}

// FindByStatus retrieves all tasks in the given status.
func (r *GORMTaskRepository) FindByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to find tasks by status %s: %w", status, err)
	}
	return tasks, nil
}

// FindByAssignee retrieves all tasks assigned to the given user id.
func (r *GORMTaskRepository) FindByAssignee(ctx context.Context, userID uint) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).Where("assignee_id = ?", userID).Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to find tasks by assignee %d: %w", userID, err)
	}
	return tasks, nil
}

// Create creates a new task in the database.
func (r *GORMTaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update writes every mutable field of an existing task, including zero
// values, so a cleared description or assignee is persisted.
func (r *GORMTaskRepository) Update(ctx context.Context, task *models.Task) error {
	res := r.db.WithContext(ctx).Model(task).
		Select("Title", "Description", "Status", "AssigneeID", "UpdatedAt").
		Updates(task)
	if res.Error != nil {
		return fmt.Errorf("failed to update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &apperror.NotFoundError{Kind: "task", ID: task.ID}
	}
	return nil
}

// Delete deletes a task by its ID from the database.
func (r *GORMTaskRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &apperror.NotFoundError{Kind: "task", ID: id}
	}
	return nil
}
