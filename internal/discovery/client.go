// Package discovery resolves a logical service name through the registry and
// calls one of its instances, turning every remote outcome into either a
// response, an *apperror.NotFoundError or an *apperror.DependencyUnavailableError.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskhub/internal/apperror"
	"taskhub/internal/registry"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logical service names used for registration and resolution.
const (
	UserServiceName = "user-service"
	TaskServiceName = "task-service"
)

// HeaderRequestID carries the correlation id across service hops.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID stores a correlation id on ctx for outgoing calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Request describes one remote call. Entity and EntityID name the resource
// so that a remote 404 becomes a typed not-found for it.
type Request struct {
	Method   string
	Path     string
	Body     interface{}
	Entity   string
	EntityID uint
}

// Response is a successful (2xx) remote answer.
type Response struct {
	StatusCode int
	Body       []byte
	Endpoint   string
}

// Config tunes the client.
type Config struct {
	// Timeout bounds each attempt; a shorter context deadline wins.
	Timeout time.Duration
	// MaxAttempts bounds the attempts per call. Only DependencyUnavailable
	// outcomes are retried, each time against a different instance.
	MaxAttempts int
}

// Client is the resolver/client. It holds no locks across network calls.
type Client struct {
	resolver    registry.Resolver
	timeout     time.Duration
	maxAttempts int
	counters    sync.Map
	log         logrus.FieldLogger
}

// NewClient creates a client resolving endpoints through resolver.
func NewClient(resolver registry.Resolver, cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		resolver:    resolver,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
	}
}

// Call resolves service and performs req against one of its instances.
func (c *Client) Call(ctx context.Context, service string, req Request) (*Response, error) {
	instances, err := c.resolver.Resolve(ctx, service)
	if err != nil {
		return nil, &apperror.DependencyUnavailableError{Service: service, Cause: err}
	}
	if len(instances) == 0 {
		return nil, &apperror.DependencyUnavailableError{Service: service, Cause: apperror.ErrServiceUnavailable}
	}

	attempts := c.maxAttempts
	if attempts > len(instances) {
		attempts = len(instances)
	}
	start := c.next(service)
	reqID := requestID(ctx)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &apperror.DependencyUnavailableError{Service: service, Cause: ctxErr}
		}

		inst := instances[(start+i)%len(instances)]
		resp, err := c.do(ctx, service, inst.Address, reqID, req)
		if err == nil {
			return resp, nil
		}
		if !apperror.IsDependencyUnavailable(err) {
			return nil, err
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{
			"service":    service,
			"endpoint":   inst.Address,
			"attempt":    i + 1,
			"request_id": reqID,
		}).WithError(err).Warn("remote call failed")
	}
	return nil, lastErr
}

// next advances the round-robin position for service.
func (c *Client) next(service string) int {
	v, _ := c.counters.LoadOrStore(service, new(uint64))
	n := atomic.AddUint64(v.(*uint64), 1) - 1
	return int(n % uint64(1<<31))
}

func (c *Client) do(ctx context.Context, service, address, reqID string, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = fiber.MethodGet
	}

	agent := fiber.AcquireAgent()
	httpReq := agent.Request()
	httpReq.Header.SetMethod(method)
	httpReq.SetRequestURI("http://" + address + req.Path)
	agent.Set(HeaderRequestID, reqID)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Timeout(boundedTimeout(ctx, c.timeout))
	if req.Body != nil {
		agent.JSON(req.Body)
	}
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return nil, &apperror.DependencyUnavailableError{Service: service, Cause: err}
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, &apperror.DependencyUnavailableError{Service: service, Cause: errs[0]}
	}

	switch {
	case code >= 200 && code < 300:
		return &Response{StatusCode: code, Body: body, Endpoint: address}, nil
	case code == fiber.StatusNotFound && isHandledError(body):
		return nil, &apperror.NotFoundError{Kind: req.Entity, ID: req.EntityID}
	default:
		return nil, &apperror.DependencyUnavailableError{
			Service: service,
			Cause:   fmt.Errorf("unexpected status %d from %s", code, address),
		}
	}
}

// errorBody is the JSON every service handler writes for a failed request.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// isHandledError reports whether body came from a service handler. A bare 404
// from a router without the route (a stale address now held by another
// process) does not confirm that the entity is absent.
func isHandledError(body []byte) bool {
	var e errorBody
	return json.Unmarshal(body, &e) == nil && e.Error != ""
}

// boundedTimeout shortens timeout to the context deadline, if any.
func boundedTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			if remaining <= 0 {
				return time.Millisecond
			}
			return remaining
		}
	}
	return timeout
}
