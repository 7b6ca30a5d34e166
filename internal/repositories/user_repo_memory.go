package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/models"
)

// MemoryUserRepository is an in-memory implementation of UserRepository.
// The email check and the write happen under one lock.
type MemoryUserRepository struct {
	users   map[uint]models.User
	byEmail map[string]uint
	nextID  uint
	mu      sync.RWMutex
}

// NewMemoryUserRepository creates a new instance of MemoryUserRepository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:   make(map[uint]models.User),
		byEmail: make(map[string]uint),
		nextID:  1,
	}
}

// GetAll returns all users ordered by id.
func (r *MemoryUserRepository) GetAll(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userList := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		userList = append(userList, u)
	}
	sort.Slice(userList, func(i, j int) bool { return userList[i].ID < userList[j].ID })
	return userList, nil
}

// GetByID returns a user by its ID.
func (r *MemoryUserRepository) GetByID(_ context.Context, id uint) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, &apperror.NotFoundError{Kind: "user", ID: id}
	}
	return &user, nil
}

// Create adds a new user and assigns its ID.
func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := emailKey(user.Email)
	if _, taken := r.byEmail[key]; taken {
		return &apperror.ConflictError{Field: "email"}
	}

	user.ID = r.nextID
	r.nextID++
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	r.users[user.ID] = *user
	r.byEmail[key] = user.ID
	return nil
}

// Update modifies name and email of an existing user.
func (r *MemoryUserRepository) Update(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return &apperror.NotFoundError{Kind: "user", ID: user.ID}
	}

	newKey := emailKey(user.Email)
	if owner, taken := r.byEmail[newKey]; taken && owner != user.ID {
		return &apperror.ConflictError{Field: "email"}
	}

	delete(r.byEmail, emailKey(existing.Email))
	existing.Name = user.Name
	existing.Email = user.Email
	r.users[user.ID] = existing
	r.byEmail[newKey] = user.ID

	*user = existing
	return nil
}

// Delete removes a user by its ID.
func (r *MemoryUserRepository) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return &apperror.NotFoundError{Kind: "user", ID: id}
	}
	delete(r.byEmail, emailKey(user.Email))
	delete(r.users, id)
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
