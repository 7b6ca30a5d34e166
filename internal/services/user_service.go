package services

import (
	"context"
	"strings"

	"taskhub/internal/models"
	"taskhub/internal/repositories"

	"github.com/sirupsen/logrus"
)

// CreateUserInput is the payload for creating a user.
type CreateUserInput struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email,max=255"`
}

// UpdateUserInput carries the optional fields of a user update.
// A nil field is left unchanged.
type UpdateUserInput struct {
	Name  *string `json:"name" validate:"omitnil,required,max=100"`
	Email *string `json:"email" validate:"omitnil,required,email,max=255"`
}

// UserService handles business logic related to users.
type UserService struct {
	repo repositories.UserRepository
	log  logrus.FieldLogger
}

// NewUserService creates a new UserService.
func NewUserService(repo repositories.UserRepository, log logrus.FieldLogger) *UserService {
	return &UserService{
		repo: repo,
		log:  log,
	}
}

// ListUsers retrieves all users ordered by id.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.repo.GetAll(ctx)
}

// GetUserByID retrieves a single user.
func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateUser validates and stores a new user. Email uniqueness is enforced by
// the repository, so concurrent creates with one email yield one success.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user := &models.User{Name: input.Name, Email: input.Email}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.WithField("user_id", user.ID).Info("user created")
	return user, nil
}

// UpdateUser applies the provided fields to an existing user.
func (s *UserService) UpdateUser(ctx context.Context, id uint, input UpdateUserInput) (*models.User, error) {
	input.Name = trimPtr(input.Name)
	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		input.Email = &email
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.Email != nil {
		user.Email = *input.Email
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.log.WithField("user_id", user.ID).Info("user updated")
	return user, nil
}

// DeleteUser removes a user permanently. Tasks still pointing at it are left alone.
func (s *UserService) DeleteUser(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("user deleted")
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
