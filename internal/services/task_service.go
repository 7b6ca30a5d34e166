package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/discovery"
	"taskhub/internal/models"
	"taskhub/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// enrichConcurrency bounds the concurrent user lookups of one list read.
const enrichConcurrency = 8

// UserLookup is the user-service read-by-id contract. It returns
// *apperror.NotFoundError when the user is confirmed absent and
// *apperror.DependencyUnavailableError when the user-service cannot answer.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*discovery.UserDTO, error)
}

// EventPublisher publishes task events.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, body []byte) error
}

// CreateTaskInput is the payload for creating a task.
type CreateTaskInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=500"`
	AssigneeID  *uint  `json:"assignee_id" validate:"omitnil,gt=0"`
}

// UpdateTaskInput carries the optional fields of a task update. A blank
// title and nil fields are left unchanged.
type UpdateTaskInput struct {
	Title       *string            `json:"title" validate:"omitnil,max=200"`
	Description *string            `json:"description" validate:"omitnil,max=500"`
	Status      *models.TaskStatus `json:"status"`
	AssigneeID  *uint              `json:"assignee_id" validate:"omitnil,gt=0"`
}

// TaskService validates task writes against the user-service and enriches
// task reads with the assignee's name.
//
// Writes that reference an assignee fail hard: a confirmed-absent user gives
// *apperror.UserNotFoundError and an unreachable user-service propagates its
// *apperror.DependencyUnavailableError. Reads never fail on the user-service;
// a failed lookup only leaves assignee_name null.
type TaskService struct {
	repo   repositories.TaskRepository
	users  UserLookup
	events EventPublisher
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewTaskService creates a new TaskService. events may be nil.
func NewTaskService(repo repositories.TaskRepository, users UserLookup, events EventPublisher, log logrus.FieldLogger) *TaskService {
	return &TaskService{
		repo:   repo,
		users:  users,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// CreateTask validates the assignee, if any, and stores a new OPEN task.
func (s *TaskService) CreateTask(ctx context.Context, input CreateTaskInput) (*models.TaskResponse, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var assigneeName *string
	if input.AssigneeID != nil {
		user, err := s.validateAssignee(ctx, *input.AssigneeID)
		if err != nil {
			return nil, err
		}
		assigneeName = &user.Name
	}

	now := s.now()
	task := &models.Task{
		Title:       input.Title,
		Description: input.Description,
		Status:      models.StatusOpen,
		AssigneeID:  input.AssigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task in repository: %w", err)
	}

	s.log.WithField("task_id", task.ID).Info("task created")
	s.publish(ctx, models.TaskCreated, task)

	resp := models.NewTaskResponse(task, assigneeName)
	return &resp, nil
}

// UpdateTask applies the provided fields. A new assignee is validated the
// same way as on create and is only stored once that validation succeeds.
func (s *TaskService) UpdateTask(ctx context.Context, id uint, input UpdateTaskInput) (*models.TaskResponse, error) {
	input.Title = trimPtr(input.Title)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, apperror.NewValidationError("status", fmt.Sprintf("invalid task status: %s", *input.Status))
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var assigneeName *string
	if input.AssigneeID != nil {
		user, err := s.validateAssignee(ctx, *input.AssigneeID)
		if err != nil {
			return nil, err
		}
		assigneeName = &user.Name
	}

	if input.Title != nil && *input.Title != "" {
		task.Title = *input.Title
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.Status != nil {
		task.Status = *input.Status
	}
	if input.AssigneeID != nil {
		assigneeID := *input.AssigneeID
		task.AssigneeID = &assigneeID
	}
	task.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, err
	}

	s.log.WithField("task_id", task.ID).Info("task updated")
	s.publish(ctx, models.TaskUpdated, task)

	if input.AssigneeID == nil {
		assigneeName = s.lookupName(ctx, task.AssigneeID)
	}
	resp := models.NewTaskResponse(task, assigneeName)
	return &resp, nil
}

// GetTaskByID returns one task, enriched best-effort.
func (s *TaskService) GetTaskByID(ctx context.Context, id uint) (*models.TaskResponse, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := models.NewTaskResponse(task, s.lookupName(ctx, task.AssigneeID))
	return &resp, nil
}

// ListTasks returns all tasks, or those in status when it is non-nil.
func (s *TaskService) ListTasks(ctx context.Context, status *models.TaskStatus) ([]models.TaskResponse, error) {
	var (
		tasks []models.Task
		err   error
	)
	if status != nil {
		if !status.Valid() {
			return nil, apperror.NewValidationError("status", fmt.Sprintf("invalid task status: %s", *status))
		}
		tasks, err = s.repo.FindByStatus(ctx, *status)
	} else {
		tasks, err = s.repo.GetAll(ctx)
	}
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, tasks), nil
}

// ListTasksByAssignee returns the tasks of one user. Unlike other reads the
// queried user must exist: the up-front lookup is strict and its result is
// reused for every row.
func (s *TaskService) ListTasksByAssignee(ctx context.Context, userID uint) ([]models.TaskResponse, error) {
	user, err := s.validateAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}

	tasks, err := s.repo.FindByAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}

	name := user.Name
	responses := make([]models.TaskResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, models.NewTaskResponse(&tasks[i], &name))
	}
	return responses, nil
}

// DeleteTask removes a task. The user-service is not consulted.
func (s *TaskService) DeleteTask(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithField("task_id", id).Info("task deleted")
	s.publish(ctx, models.TaskDeleted, &models.Task{ID: id})
	return nil
}

// validateAssignee is the strict lookup used by writes and by-assignee reads.
func (s *TaskService) validateAssignee(ctx context.Context, userID uint) (*discovery.UserDTO, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	switch {
	case err == nil:
		return user, nil
	case apperror.IsNotFound(err):
		return nil, &apperror.UserNotFoundError{ID: userID}
	default:
		s.log.WithField("user_id", userID).WithError(err).Warn("assignee validation failed")
		return nil, err
	}
}

// lookupName is the best-effort lookup used by reads.
func (s *TaskService) lookupName(ctx context.Context, userID *uint) *string {
	if userID == nil {
		return nil
	}
	user, err := s.users.GetUserByID(ctx, *userID)
	if err != nil {
		s.log.WithField("user_id", *userID).WithError(err).Debug("assignee enrichment skipped")
		return nil
	}
	return &user.Name
}

// enrich resolves each distinct assignee once, concurrently.
func (s *TaskService) enrich(ctx context.Context, tasks []models.Task) []models.TaskResponse {
	var (
		mu    sync.Mutex
		names = make(map[uint]*string)
		seen  = make(map[uint]bool)
		g     errgroup.Group
	)
	g.SetLimit(enrichConcurrency)

	for _, task := range tasks {
		if task.AssigneeID == nil || seen[*task.AssigneeID] {
			continue
		}
		userID := *task.AssigneeID
		seen[userID] = true
		g.Go(func() error {
			name := s.lookupName(ctx, &userID)
			mu.Lock()
			names[userID] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	responses := make([]models.TaskResponse, 0, len(tasks))
	for i := range tasks {
		var name *string
		if tasks[i].AssigneeID != nil {
			name = names[*tasks[i].AssigneeID]
		}
		responses = append(responses, models.NewTaskResponse(&tasks[i], name))
	}
	return responses
}

func (s *TaskService) publish(ctx context.Context, eventType models.TaskEventType, task *models.Task) {
	if s.events == nil {
		return
	}

	event := models.TaskEvent{
		EventID:    uuid.New().String(),
		Type:       eventType,
		TaskID:     task.ID,
		AssigneeID: task.AssigneeID,
		Status:     task.Status,
		OccurredAt: s.now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal task event")
		return
	}
	if err := s.events.Publish(ctx, string(eventType), body); err != nil {
		s.log.WithFields(logrus.Fields{
			"task_id": task.ID,
			"event":   eventType,
		}).WithError(err).Warn("failed to publish task event")
	}
}
