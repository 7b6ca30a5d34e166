package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/models"
)

// MemoryTaskRepository is an in-memory implementation of TaskRepository.
type MemoryTaskRepository struct {
	tasks  map[uint]models.Task
	nextID uint
	mu     sync.RWMutex
}

// NewMemoryTaskRepository creates a new instance of MemoryTaskRepository.
func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{
		tasks:  make(map[uint]models.Task),
		nextID: 1,
	}
}

// GetAll returns all tasks.
func (r *MemoryTaskRepository) GetAll(_ context.Context) ([]models.Task, error) {
	return r.filter(func(models.Task) bool { return true }), nil
}

// GetByID returns a task by its ID.
func (r *MemoryTaskRepository) GetByID(_ context.Context, id uint) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, &apperror.NotFoundError{Kind: "task", ID: id}
	}
	return cloneTask(task), nil
}

// FindByStatus returns all tasks in the given status.
func (r *MemoryTaskRepository) FindByStatus(_ context.Context, status models.TaskStatus) ([]models.Task, error) {
	return r.filter(func(t models.Task) bool { return t.Status == status }), nil
}

// FindByAssignee returns all tasks assigned to userID.
func (r *MemoryTaskRepository) FindByAssignee(_ context.Context, userID uint) ([]models.Task, error) {
	return r.filter(func(t models.Task) bool {
		return t.AssigneeID != nil && *t.AssigneeID == userID
	}), nil
}

// Create adds a new task and assigns its ID.
func (r *MemoryTaskRepository) Create(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task.ID = r.nextID
	r.nextID++
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
	r.tasks[task.ID] = *cloneTask(*task)
	return nil
}

// Update replaces an existing task.
func (r *MemoryTaskRepository) Update(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tasks[task.ID]
	if !ok {
		return &apperror.NotFoundError{Kind: "task", ID: task.ID}
	}
	updated := *cloneTask(*task)
	updated.CreatedAt = existing.CreatedAt
	r.tasks[task.ID] = updated
	return nil
}

// Delete removes a task by its ID.
func (r *MemoryTaskRepository) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return &apperror.NotFoundError{Kind: "task", ID: id}
	}
	delete(r.tasks, id)
	return nil
}

func (r *MemoryTaskRepository) filter(keep func(models.Task) bool) []models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	taskList := make([]models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if keep(t) {
			taskList = append(taskList, *cloneTask(t))
		}
	}
	sort.Slice(taskList, func(i, j int) bool { return taskList[i].ID < taskList[j].ID })
	return taskList
}

// cloneTask copies the assignee pointer so callers cannot mutate stored state.
func cloneTask(t models.Task) *models.Task {
	if t.AssigneeID != nil {
		id := *t.AssigneeID
		t.AssigneeID = &id
	}
	return &t
}
