package handlers

import (
	"fmt"

	"taskhub/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// UserHandler handles HTTP requests for users.
type UserHandler struct {
	service *services.UserService
	log     logrus.FieldLogger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service *services.UserService, log logrus.FieldLogger) *UserHandler {
	return &UserHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes registers the user routes with the Fiber app.
func (h *UserHandler) RegisterRoutes(router fiber.Router) {
	userRoutes := router.Group("/users")
	userRoutes.Get("/", h.HandleGetUsers)
	userRoutes.Get("/:id", h.HandleGetUserByID)
	userRoutes.Post("/", h.HandleCreateUser)
	userRoutes.Put("/:id", h.HandleUpdateUser)
	userRoutes.Delete("/:id", h.HandleDeleteUser)
}

// HandleGetUsers retrieves all users.
func (h *UserHandler) HandleGetUsers(c *fiber.Ctx) error {
	users, err := h.service.ListUsers(c.UserContext())
	if err != nil {
		return writeError(c, h.log, "Could not retrieve users", err)
	}
	return c.JSON(users)
}

// HandleGetUserByID retrieves a single user. This is the read the
// task-service depends on: 404 means the user is confirmed absent.
func (h *UserHandler) HandleGetUserByID(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, h.log, "Invalid user id", err)
	}

	user, err := h.service.GetUserByID(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, fmt.Sprintf("User with ID %d not found", id), err)
	}
	return c.JSON(user)
}

// HandleCreateUser creates a new user.
func (h *UserHandler) HandleCreateUser(c *fiber.Ctx) error {
	var input services.CreateUserInput
	if err := c.BodyParser(&input); err != nil {
		return invalidBody(c, err)
	}

	user, err := h.service.CreateUser(c.UserContext(), input)
	if err != nil {
		return writeError(c, h.log, "Could not create user", err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// HandleUpdateUser applies the provided fields to a user.
func (h *UserHandler) HandleUpdateUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, h.log, "Invalid user id", err)
	}

	var input services.UpdateUserInput
	if err := c.BodyParser(&input); err != nil {
		return invalidBody(c, err)
	}

	user, err := h.service.UpdateUser(c.UserContext(), id, input)
	if err != nil {
		return writeError(c, h.log, fmt.Sprintf("Could not update user %d", id), err)
	}
	return c.JSON(user)
}

// HandleDeleteUser deletes a user.
func (h *UserHandler) HandleDeleteUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, h.log, "Invalid user id", err)
	}

	if err := h.service.DeleteUser(c.UserContext(), id); err != nil {
		return writeError(c, h.log, fmt.Sprintf("Could not delete user %d", id), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
