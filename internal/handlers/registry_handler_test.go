package handlers_test

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/handlers"
	"taskhub/internal/logging"
	"taskhub/internal/registry"
	"taskhub/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistryApp(secret string) *fiber.App {
	log := logging.Discard()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handlers.NewRegistryHandler(registry.New(registry.WithLogger(log)), services.NewAuthService(secret), log).RegisterRoutes(app.Group("/api"))
	return app
}

func TestRegistryEndpoints(t *testing.T) {
	app := setupRegistryApp("")

	resp := doJSON(t, app, http.MethodGet, "/api/registry/services/user-service", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/registry/instances", registry.RegisterRequest{Service: "user-service", Address: "127.0.0.1:8081", LeaseSeconds: 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inst registry.Instance
	decode(t, resp, &inst)
	assert.NotEmpty(t, inst.ID)

	resp = doJSON(t, app, http.MethodGet, "/api/registry/services/user-service", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved registry.ResolveResponse
	decode(t, resp, &resolved)
	require.Len(t, resolved.Instances, 1)
	assert.Equal(t, "127.0.0.1:8081", resolved.Instances[0].Address)

	resp = doJSON(t, app, http.MethodPost, "/api/registry/instances", registry.RegisterRequest{Service: "user-service", Address: "no-port"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/api/registry/services", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all map[string][]registry.Instance
	decode(t, resp, &all)
	assert.Len(t, all["user-service"], 1)

	resp = doJSON(t, app, http.MethodDelete, "/api/registry/instances", registry.RegisterRequest{Service: "user-service", Address: "127.0.0.1:8081"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, app, http.MethodGet, "/api/registry/services/user-service", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestRegistryWritesRequireServiceToken(t *testing.T) {
	secret := "test_service_secret"
	app := setupRegistryApp(secret)
	auth := services.NewAuthService(secret)
	body := registry.RegisterRequest{Service: "user-service", Address: "127.0.0.1:8081"}

	resp := doJSON(t, app, http.MethodPost, "/api/registry/instances", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	otherToken, err := auth.IssueToken("task-service")
	require.NoError(t, err)
	req := jsonRequest(t, http.MethodPost, "/api/registry/instances", body)
	req.Header.Set("Authorization", "Bearer "+otherToken)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	token, err := auth.IssueToken("user-service")
	require.NoError(t, err)
	req = jsonRequest(t, http.MethodPost, "/api/registry/instances", body)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/api/registry/services/user-service", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRegistryClientRoundTrip(t *testing.T) {
	secret := "test_service_secret"
	app := setupRegistryApp(secret)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	client := registry.NewClient("http://"+ln.Addr().String()+"/", time.Second, services.NewAuthService(secret))
	ctx := context.Background()

	_, err = client.Resolve(ctx, "user-service")
	assert.ErrorIs(t, err, apperror.ErrServiceUnavailable)

	inst, err := client.Register(ctx, "user-service", "127.0.0.1:8081", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "user-service", inst.Service)

	instances, err := client.Resolve(ctx, "user-service")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst.ID, instances[0].ID)

	require.NoError(t, client.Deregister(ctx, "user-service", "127.0.0.1:8081"))
	_, err = client.Resolve(ctx, "user-service")
	assert.ErrorIs(t, err, apperror.ErrServiceUnavailable)

	unsigned := registry.NewClient("http://"+ln.Addr().String(), time.Second, nil)
	_, err = unsigned.Register(ctx, "user-service", "127.0.0.1:8081", 30*time.Second)
	assert.Error(t, err)
}
