package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskhub/internal/apperror"

	"github.com/gofiber/fiber/v2"
)

// UserDTO is the user-service's read model as seen by other services.
type UserDTO struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// UserClient is the typed read-by-id contract of the user-service.
type UserClient struct {
	client *Client
}

// NewUserClient wraps a discovery client.
func NewUserClient(client *Client) *UserClient {
	return &UserClient{client: client}
}

// GetUserByID fetches a user. It returns *apperror.NotFoundError when the
// user-service answers 404 and *apperror.DependencyUnavailableError when it
// cannot be reached or answers with anything unusable.
func (u *UserClient) GetUserByID(ctx context.Context, id uint) (*UserDTO, error) {
	resp, err := u.client.Call(ctx, UserServiceName, Request{
		Method:   fiber.MethodGet,
		Path:     fmt.Sprintf("/api/users/%d", id),
		Entity:   "user",
		EntityID: id,
	})
	if err != nil {
		return nil, err
	}

	var user UserDTO
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, &apperror.DependencyUnavailableError{
			Service: UserServiceName,
			Cause:   fmt.Errorf("decode user %d from %s: %w", id, resp.Endpoint, err),
		}
	}
	return &user, nil
}
