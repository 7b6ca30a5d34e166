package handlers

import (
	"context"
	"errors"
	"fmt"

	"taskhub/internal/apperror"
	"taskhub/internal/discovery"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RegisterHealth adds GET /health reporting the service name.
func RegisterHealth(router fiber.Router, service string) {
	router.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "UP",
			"service": service,
		})
	})
}

// writeError maps err onto its HTTP status and the common error body.
func writeError(c *fiber.Ctx, log logrus.FieldLogger, message string, err error) error {
	status := apperror.HTTPStatus(err)
	body := fiber.Map{
		"message": message,
		"error":   err.Error(),
	}

	var verr *apperror.ValidationError
	if errors.As(err, &verr) {
		body["message"] = "Validation failed"
		body["errors"] = verr.Fields
	}

	entry := log.WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
		"status": status,
	}).WithError(err)
	if status >= fiber.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	return c.Status(status).JSON(body)
}

func invalidBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}

// toValidationError converts validator failures into an *apperror.ValidationError.
func toValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperror.NewValidationError("body", err.Error())
	}
	errorMessages := make(map[string]string)
	for _, e := range validationErrors {
		errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return &apperror.ValidationError{Fields: errorMessages}
}

// paramID reads a positive integer path parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, apperror.NewValidationError(name, fmt.Sprintf("invalid id: %q", c.Params(name)))
	}
	return uint(id), nil
}

// requestContext carries the request id assigned by the requestid middleware
// into outgoing calls.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		ctx = discovery.WithRequestID(ctx, id)
	}
	return ctx
}
