package discovery

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/logging"
	"taskhub/internal/registry"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, setup func(app *fiber.App)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	setup(app)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return ln.Addr().String()
}

func deadAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestClient(t *testing.T, cfg Config, addresses ...string) *Client {
	t.Helper()
	reg := registry.New(registry.WithLogger(logging.Discard()))
	for _, addr := range addresses {
		_, err := reg.Register(context.Background(), UserServiceName, addr, time.Minute)
		require.NoError(t, err)
	}
	return NewClient(reg, cfg, logging.Discard())
}

func userApp(hits *int64) func(app *fiber.App) {
	return func(app *fiber.App) {
		app.Get("/api/users/:id", func(c *fiber.Ctx) error {
			atomic.AddInt64(hits, 1)
			id, _ := c.ParamsInt("id")
			if id != 1 {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found", "error": "user not found"})
			}
			return c.JSON(fiber.Map{"id": 1, "name": "Ada", "email": "ada@x.io"})
		})
	}
}

func TestGetUserByID_Success(t *testing.T) {
	var hits int64
	addr := startServer(t, userApp(&hits))
	users := NewUserClient(newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 2}, addr))

	user, err := users.GetUserByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), user.ID)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, "ada@x.io", user.Email)
}

func TestGetUserByID_NotFoundIsNotRetried(t *testing.T) {
	var hits int64
	addrA := startServer(t, userApp(&hits))
	addrB := startServer(t, userApp(&hits))
	users := NewUserClient(newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 2}, addrA, addrB))

	_, err := users.GetUserByID(context.Background(), 42)
	var nf *apperror.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, uint(42), nf.ID)
	assert.False(t, apperror.IsDependencyUnavailable(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestGetUserByID_UnknownRouteIsDependencyUnavailable(t *testing.T) {
	foreign := startServer(t, func(app *fiber.App) {})
	users := NewUserClient(newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 1}, foreign))

	_, err := users.GetUserByID(context.Background(), 1)
	assert.True(t, apperror.IsDependencyUnavailable(err))
	var nf *apperror.NotFoundError
	assert.False(t, errors.As(err, &nf))
}

func TestGetUserByID_UnknownRouteRetriesAnotherInstance(t *testing.T) {
	var hits int64
	foreign := startServer(t, func(app *fiber.App) {})
	good := startServer(t, userApp(&hits))
	client := newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 2}, foreign, good)
	users := NewUserClient(client)

	for i := 0; i < 2; i++ {
		user, err := users.GetUserByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Ada", user.Name)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestIsHandledError(t *testing.T) {
	assert.True(t, isHandledError([]byte(`{"message":"User not found","error":"user not found with id: 1"}`)))
	assert.False(t, isHandledError([]byte("Cannot GET /api/users/1")))
	assert.False(t, isHandledError([]byte(`{"message":"no error field"}`)))
	assert.False(t, isHandledError(nil))
}

func TestCall_NoInstancesIsDependencyUnavailable(t *testing.T) {
	client := newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 2})

	_, err := client.Call(context.Background(), UserServiceName, Request{Path: "/api/users/1"})
	var dep *apperror.DependencyUnavailableError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, UserServiceName, dep.Service)
}

func TestCall_UnreachableEndpoint(t *testing.T) {
	client := newTestClient(t, Config{Timeout: 500 * time.Millisecond, MaxAttempts: 2}, deadAddress(t))

	_, err := client.Call(context.Background(), UserServiceName, Request{Path: "/api/users/1"})
	assert.True(t, apperror.IsDependencyUnavailable(err))
}

func TestCall_ServerErrorIsDependencyUnavailable(t *testing.T) {
	addr := startServer(t, func(app *fiber.App) {
		app.Get("/api/users/:id", func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusInternalServerError)
		})
	})
	client := newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 1}, addr)

	_, err := client.Call(context.Background(), UserServiceName, Request{Path: "/api/users/1"})
	assert.True(t, apperror.IsDependencyUnavailable(err))
}

func TestCall_TimeoutIsDependencyUnavailable(t *testing.T) {
	addr := startServer(t, func(app *fiber.App) {
		app.Get("/api/users/:id", func(c *fiber.Ctx) error {
			time.Sleep(300 * time.Millisecond)
			return c.JSON(fiber.Map{"id": 1})
		})
	})
	client := newTestClient(t, Config{Timeout: 50 * time.Millisecond, MaxAttempts: 1}, addr)

	start := time.Now()
	_, err := client.Call(context.Background(), UserServiceName, Request{Path: "/api/users/1"})
	assert.True(t, apperror.IsDependencyUnavailable(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestCall_RetriesOnAnotherInstance(t *testing.T) {
	var hits int64
	good := startServer(t, userApp(&hits))
	bad := deadAddress(t)
	client := newTestClient(t, Config{Timeout: 500 * time.Millisecond, MaxAttempts: 2}, good, bad)
	users := NewUserClient(client)

	for i := 0; i < 4; i++ {
		user, err := users.GetUserByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Ada", user.Name)
	}
}

func TestCall_RoundRobin(t *testing.T) {
	var hitsA, hitsB int64
	addrA := startServer(t, userApp(&hitsA))
	addrB := startServer(t, userApp(&hitsB))
	client := newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 1}, addrA, addrB)

	for i := 0; i < 4; i++ {
		_, err := client.Call(context.Background(), UserServiceName, Request{Path: "/api/users/1"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&hitsA))
	assert.Equal(t, int64(2), atomic.LoadInt64(&hitsB))
}

func TestGetUserByID_MalformedBody(t *testing.T) {
	addr := startServer(t, func(app *fiber.App) {
		app.Get("/api/users/:id", func(c *fiber.Ctx) error {
			return c.SendString("not json")
		})
	})
	users := NewUserClient(newTestClient(t, Config{Timeout: time.Second, MaxAttempts: 1}, addr))

	_, err := users.GetUserByID(context.Background(), 1)
	assert.True(t, apperror.IsDependencyUnavailable(err))
}

func TestBoundedTimeout(t *testing.T) {
	assert.Equal(t, time.Second, boundedTimeout(context.Background(), time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.LessOrEqual(t, boundedTimeout(ctx, time.Second), 100*time.Millisecond)
}
