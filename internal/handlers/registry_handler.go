package handlers

import (
	"fmt"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/middleware"
	"taskhub/internal/registry"
	"taskhub/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RegistryHandler handles HTTP requests for the service registry.
type RegistryHandler struct {
	registry    registry.Backend
	authService *services.AuthService
	validate    *validator.Validate
	log         logrus.FieldLogger
}

// NewRegistryHandler creates a new RegistryHandler.
func NewRegistryHandler(backend registry.Backend, authService *services.AuthService, log logrus.FieldLogger) *RegistryHandler {
	return &RegistryHandler{
		registry:    backend,
		authService: authService,
		validate:    validator.New(),
		log:         log,
	}
}

// RegisterRoutes registers the registry routes. Writes require a service
// token when service auth is configured.
func (h *RegistryHandler) RegisterRoutes(router fiber.Router) {
	registryRoutes := router.Group("/registry")
	auth := middleware.ServiceAuthRequired(h.authService, h.log)
	registryRoutes.Post("/instances", auth, h.HandleRegister)
	registryRoutes.Delete("/instances", auth, h.HandleDeregister)
	registryRoutes.Get("/services", h.HandleListServices)
	registryRoutes.Get("/services/:name", h.HandleResolve)
}

// HandleRegister records or renews an instance.
func (h *RegistryHandler) HandleRegister(c *fiber.Ctx) error {
	req, err := h.parseRequest(c)
	if err != nil {
		return writeError(c, h.log, "Invalid instance", err)
	}
	if caller, ok := tokenMismatch(c, req.Service); ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Token does not match service",
			"error":   fmt.Sprintf("token issued for %s, not %s", caller, req.Service),
		})
	}

	lease := registry.ClampLease(time.Duration(req.LeaseSeconds) * time.Second)
	inst, err := h.registry.Register(c.UserContext(), req.Service, req.Address, lease)
	if err != nil {
		return writeError(c, h.log, "Could not register instance", err)
	}
	return c.JSON(inst)
}

// HandleDeregister removes an instance.
func (h *RegistryHandler) HandleDeregister(c *fiber.Ctx) error {
	req, err := h.parseRequest(c)
	if err != nil {
		return writeError(c, h.log, "Invalid instance", err)
	}
	if caller, ok := tokenMismatch(c, req.Service); ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Token does not match service",
			"error":   fmt.Sprintf("token issued for %s, not %s", caller, req.Service),
		})
	}

	if err := h.registry.Deregister(c.UserContext(), req.Service, req.Address); err != nil {
		return writeError(c, h.log, "Could not deregister instance", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleResolve returns the live instances of one service, or 503 when none.
func (h *RegistryHandler) HandleResolve(c *fiber.Ctx) error {
	service := c.Params("name")
	instances, err := h.registry.Resolve(c.UserContext(), service)
	if err != nil {
		return writeError(c, h.log, "No live instance of "+service, err)
	}
	return c.JSON(registry.ResolveResponse{Service: service, Instances: instances})
}

// HandleListServices returns every service with its live instances.
func (h *RegistryHandler) HandleListServices(c *fiber.Ctx) error {
	services, err := h.registry.Services(c.UserContext())
	if err != nil {
		return writeError(c, h.log, "Could not list services", err)
	}
	return c.JSON(services)
}

func (h *RegistryHandler) parseRequest(c *fiber.Ctx) (*registry.RegisterRequest, error) {
	var req registry.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, apperror.NewValidationError("body", err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, toValidationError(err)
	}
	return &req, nil
}

// tokenMismatch reports the caller named by the service token when it
// differs from service. Without auth there is no caller and no mismatch.
func tokenMismatch(c *fiber.Ctx, service string) (string, bool) {
	caller, ok := c.Locals(middleware.LocalService).(string)
	return caller, ok && caller != service
}
