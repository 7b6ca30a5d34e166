package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// TokenSource signs the service token sent with registry writes.
type TokenSource interface {
	IssueToken(service string) (string, error)
}

// RegisterRequest is the body of a register or deregister call.
type RegisterRequest struct {
	Service      string `json:"service" validate:"required,max=100"`
	Address      string `json:"address" validate:"required,hostname_port"`
	LeaseSeconds int    `json:"lease_seconds" validate:"gte=0"`
}

// ResolveResponse is the body returned by a resolve call.
type ResolveResponse struct {
	Service   string     `json:"service"`
	Instances []Instance `json:"instances"`
}

// Client talks to a remote registry server over HTTP. It satisfies both
// Registrar and Resolver, so services can run against a remote registry
// exactly as they would against an in-process one.
type Client struct {
	baseURL string
	timeout time.Duration
	tokens  TokenSource
}

// NewClient creates a registry client. tokens may be nil when the registry
// does not require service tokens.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		tokens:  tokens,
	}
}

// Register records or renews this instance on the remote registry.
func (c *Client) Register(ctx context.Context, service, address string, lease time.Duration) (Instance, error) {
	agent := fiber.Post(c.baseURL + "/api/registry/instances")
	if err := c.prepareWrite(ctx, agent, service); err != nil {
		fiber.ReleaseAgent(agent)
		return Instance{}, err
	}
	agent.JSON(RegisterRequest{Service: service, Address: address, LeaseSeconds: int(lease / time.Second)})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return Instance{}, fmt.Errorf("register with registry: %w", errs[0])
	}
	if code != fiber.StatusOK {
		return Instance{}, fmt.Errorf("register with registry: unexpected status %d: %s", code, body)
	}

	var inst Instance
	if err := json.Unmarshal(body, &inst); err != nil {
		return Instance{}, fmt.Errorf("decode registration: %w", err)
	}
	return inst, nil
}

// Deregister removes this instance from the remote registry.
func (c *Client) Deregister(ctx context.Context, service, address string) error {
	agent := fiber.Delete(c.baseURL + "/api/registry/instances")
	if err := c.prepareWrite(ctx, agent, service); err != nil {
		fiber.ReleaseAgent(agent)
		return err
	}
	agent.JSON(RegisterRequest{Service: service, Address: address})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("deregister from registry: %w", errs[0])
	}
	if code != fiber.StatusNoContent {
		return fmt.Errorf("deregister from registry: unexpected status %d: %s", code, body)
	}
	return nil
}

// Resolve asks the remote registry for the live instances of service.
func (c *Client) Resolve(ctx context.Context, service string) ([]Instance, error) {
	agent := fiber.Get(c.baseURL + "/api/registry/services/" + url.PathEscape(service))
	agent.Timeout(boundedTimeout(ctx, c.timeout))

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("resolve %s: registry unreachable: %w", service, errs[0])
	}
	switch code {
	case fiber.StatusOK:
	case fiber.StatusServiceUnavailable:
		return nil, unavailable(service)
	default:
		return nil, fmt.Errorf("resolve %s: unexpected registry status %d", service, code)
	}

	var resp ResolveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode resolve response: %w", err)
	}
	if len(resp.Instances) == 0 {
		return nil, unavailable(service)
	}
	return resp.Instances, nil
}

func (c *Client) prepareWrite(ctx context.Context, agent *fiber.Agent, service string) error {
	agent.Timeout(boundedTimeout(ctx, c.timeout))
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.IssueToken(service)
	if err != nil {
		return fmt.Errorf("issue service token: %w", err)
	}
	agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	return nil
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

var _ Backend = (*Registry)(nil)
var _ Backend = (*RedisRegistry)(nil)
var _ Registrar = (*Client)(nil)
var _ Resolver = (*Client)(nil)
