package repositories

import (
	"context"

	"taskhub/internal/models"
)

// TaskRepository defines the interface for task data access.
// There is no uniqueness constraint and no relation to users.
type TaskRepository interface {
	GetAll(ctx context.Context) ([]models.Task, error)
	GetByID(ctx context.Context, id uint) (*models.Task, error)
	FindByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	FindByAssignee(ctx context.Context, userID uint) ([]models.Task, error)
	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id uint) error
}
