package repositories

import (
	"context"

	"taskhub/internal/models"
)

// UserRepository defines the interface for user data access.
// Implementations return *apperror.NotFoundError for missing ids and
// *apperror.ConflictError when an email is already taken by another user.
type UserRepository interface {
	GetAll(ctx context.Context) ([]models.User, error)
	GetByID(ctx context.Context, id uint) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id uint) error
}
