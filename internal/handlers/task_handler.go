package handlers

import (
	"fmt"

	"taskhub/internal/models"
	"taskhub/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	service *services.TaskService
	log     logrus.FieldLogger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(service *services.TaskService, log logrus.FieldLogger) *TaskHandler {
	return &TaskHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes registers the task routes with the Fiber app.
func (h *TaskHandler) RegisterRoutes(router fiber.Router) {
	taskRoutes := router.Group("/tasks")
	taskRoutes.Get("/", h.HandleGetTasks)
	taskRoutes.Get("/assignee/:userId", h.HandleGetTasksByAssignee)
	taskRoutes.Get("/:id", h.HandleGetTaskByID)
	taskRoutes.Post("/", h.HandleCreateTask)
	taskRoutes.Put("/:id", h.HandleUpdateTask)
	taskRoutes.Delete("/:id", h.HandleDeleteTask)
}

// HandleGetTasks retrieves all tasks, optionally filtered by ?status=.
func (h *TaskHandler) HandleGetTasks(c *fiber.Ctx) error {
	var status *models.TaskStatus
	if s := c.Query("status"); s != "" {
		st := models.TaskStatus(s)
		status = &st
	}

	tasks, err := h.service.ListTasks(requestContext(c), status)
	if err != nil {
		return writeError(c, h.log, "Could not retrieve tasks", err)
	}
	return c.JSON(tasks)
}

// HandleGetTasksByAssignee retrieves the tasks of one user. The user must exist.
func (h *TaskHandler) HandleGetTasksByAssignee(c *fiber.Ctx) error {
	userID, err := paramID(c, "userId")
	if err != nil {
		return writeError(c, h.log, "Invalid user id", err)
	}

	tasks, err := h.service.ListTasksByAssignee(requestContext(c), userID)
	if err != nil {
		return writeError(c, h.log, fmt.Sprintf("Could not retrieve tasks of user %d", userID), err)
	}
	return c.JSON(tasks)
}

// HandleGetTaskByID retrieves a single task.
func (h *TaskHandler) HandleGetTaskByID(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, h.log, "Invalid task id", err)
	}

	task, err := h.service.GetTaskByID(requestContext(c), id)
	if err != nil {
		return writeError(c, h.log, fmt.Sprintf("Task with ID %d not found", id), err)
	}
	return c.JSON(task)
}

// HandleCreateTask creates a new task.
func (h *TaskHandler) HandleCreateTask(c *fiber.Ctx) error {
	var input services.CreateTaskInput
	if err := c.BodyParser(&input); err != nil {
		return invalidBody(c, err)
	}

	task, err := h.service.CreateTask(requestContext(c), input)
	if err != nil {
		return writeError(c, h.log, "Could not create task", err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

// HandleUpdateTask applies the provided fields to a task.
func (h *TaskHandler) HandleUpdateTask(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, h.log, "Invalid task id", err)
	}

	var input services.UpdateTaskInput
	if err := c.BodyParser(&input); err != nil {
		return invalidBody(c, err)
	}

	task, err := h.service.UpdateTask(requestContext(c), id, input)
	if err != nil {
		return writeError(c, h.log, fmt.Sprintf("Could not update task %d", id), err)
	}
	return c.JSON(task)
}

// HandleDeleteTask deletes a task.
func (h *TaskHandler) HandleDeleteTask(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, h.log, "Invalid task id", err)
	}

	if err := h.service.DeleteTask(requestContext(c), id); err != nil {
		return writeError(c, h.log, fmt.Sprintf("Could not delete task %d", id), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
