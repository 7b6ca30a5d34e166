// Package registry maps service names to live network endpoints held under
// renewable leases. A resolve never returns an instance whose lease has passed.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskhub/internal/apperror"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Lease bounds. Out-of-range leases are clamped.
const (
	DefaultLease = 30 * time.Second
	MinLease     = 5 * time.Second
	MaxLease     = 90 * time.Second
)

// Instance is one registered endpoint of a service.
type Instance struct {
	ID           string    `json:"id"`
	Service      string    `json:"service"`
	Address      string    `json:"address"`
	RegisteredAt time.Time `json:"registered_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Registrar records and removes instances.
type Registrar interface {
	Register(ctx context.Context, service, address string, lease time.Duration) (Instance, error)
	Deregister(ctx context.Context, service, address string) error
}

// Resolver looks up the live instances of a service. It returns an error
// wrapping apperror.ErrServiceUnavailable when none are live.
type Resolver interface {
	Resolve(ctx context.Context, service string) ([]Instance, error)
}

// Backend is a full registry store.
type Backend interface {
	Registrar
	Resolver
	Services(ctx context.Context) (map[string][]Instance, error)
	EvictExpired(ctx context.Context) (int, error)
}

// ClampLease applies the default and the lease bounds.
func ClampLease(lease time.Duration) time.Duration {
	switch {
	case lease <= 0:
		return DefaultLease
	case lease < MinLease:
		return MinLease
	case lease > MaxLease:
		return MaxLease
	}
	return lease
}

func validateRegistration(service, address string) error {
	fields := map[string]string{}
	if strings.TrimSpace(service) == "" {
		fields["service"] = "is required"
	}
	if strings.TrimSpace(address) == "" {
		fields["address"] = "is required"
	}
	if len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}

func unavailable(service string) error {
	return fmt.Errorf("%w: no live instances of %s", apperror.ErrServiceUnavailable, service)
}

// Registry is the in-memory registry. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	services map[string]map[string]Instance
	now      func() time.Time
	log      logrus.FieldLogger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger used for registration events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates an empty in-memory registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string]map[string]Instance),
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a new instance or renews the lease of an existing
// (service, address) pair. Renewal keeps the instance ID.
func (r *Registry) Register(_ context.Context, service, address string, lease time.Duration) (Instance, error) {
	if err := validateRegistration(service, address); err != nil {
		return Instance{}, err
	}
	lease = ClampLease(lease)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	instances, ok := r.services[service]
	if !ok {
		instances = make(map[string]Instance)
		r.services[service] = instances
	}

	inst, exists := instances[address]
	if !exists || !now.Before(inst.ExpiresAt) {
		inst = Instance{
			ID:           uuid.New().String(),
			Service:      service,
			Address:      address,
			RegisteredAt: now,
		}
		r.log.WithFields(logrus.Fields{"service": service, "endpoint": address}).Info("instance registered")
	}
	inst.ExpiresAt = now.Add(lease)
	instances[address] = inst
	return inst, nil
}

// Deregister removes an instance. Removing an unknown instance is a no-op.
func (r *Registry) Deregister(_ context.Context, service, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[service]
	if !ok {
		return nil
	}
	if _, ok := instances[address]; ok {
		delete(instances, address)
		r.log.WithFields(logrus.Fields{"service": service, "endpoint": address}).Info("instance deregistered")
	}
	if len(instances) == 0 {
		delete(r.services, service)
	}
	return nil
}

// Resolve returns the live instances of service ordered by address.
// Expired instances of that service are dropped on the way.
func (r *Registry) Resolve(_ context.Context, service string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictServiceLocked(service, r.now())
	instances := r.services[service]
	if len(instances) == 0 {
		return nil, unavailable(service)
	}
	return sortedInstances(instances), nil
}

// Services returns a snapshot of every service with at least one live instance.
func (r *Registry) Services(_ context.Context) (map[string][]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make(map[string][]Instance, len(r.services))
	for name := range r.services {
		r.evictServiceLocked(name, now)
		if instances, ok := r.services[name]; ok {
			out[name] = sortedInstances(instances)
		}
	}
	return out, nil
}

// EvictExpired drops every instance whose lease has passed and reports how many were removed.
func (r *Registry) EvictExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for name := range r.services {
		evicted += r.evictServiceLocked(name, now)
	}
	return evicted, nil
}

func (r *Registry) evictServiceLocked(service string, now time.Time) int {
	instances, ok := r.services[service]
	if !ok {
		return 0
	}
	evicted := 0
	for addr, inst := range instances {
		if !now.Before(inst.ExpiresAt) {
			delete(instances, addr)
			evicted++
			r.log.WithFields(logrus.Fields{"service": service, "endpoint": addr}).Warn("lease expired, instance evicted")
		}
	}
	if len(instances) == 0 {
		delete(r.services, service)
	}
	return evicted
}

func sortedInstances(instances map[string]Instance) []Instance {
	out := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// RunSweeper calls EvictExpired every interval until ctx is done.
func RunSweeper(ctx context.Context, b Backend, interval time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.EvictExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("registry sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("evicted", n).Debug("registry sweep")
			}
		}
	}
}
