package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRegistry keeps the registry in Redis so several registry processes
// can share one view. Per service it stores a sorted set of addresses scored
// by lease expiry (unix ms) and a hash of instance metadata.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewRedisRegistry creates a Redis-backed registry. prefix namespaces every key.
func NewRedisRegistry(client *redis.Client, prefix string, log logrus.FieldLogger) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		now:    time.Now,
		log:    log,
	}
}

func (r *RedisRegistry) servicesKey() string            { return r.prefix + "services" }
func (r *RedisRegistry) leaseKey(service string) string { return r.prefix + "lease:" + service }
func (r *RedisRegistry) metaKey(service string) string  { return r.prefix + "meta:" + service }

// Register records or renews an instance.
func (r *RedisRegistry) Register(ctx context.Context, service, address string, lease time.Duration) (Instance, error) {
	if err := validateRegistration(service, address); err != nil {
		return Instance{}, err
	}
	lease = ClampLease(lease)
	now := r.now()

	inst := Instance{Service: service, Address: address}
	existing, err := r.client.HGet(ctx, r.metaKey(service), address).Result()
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal([]byte(existing), &inst); jsonErr != nil {
			return Instance{}, fmt.Errorf("decode instance %s/%s: %w", service, address, jsonErr)
		}
	case errors.Is(err, redis.Nil):
	default:
		return Instance{}, fmt.Errorf("read instance %s/%s: %w", service, address, err)
	}

	score, err := r.client.ZScore(ctx, r.leaseKey(service), address).Result()
	live := err == nil && float64(now.UnixMilli()) < score
	if !live {
		inst.ID = uuid.New().String()
		inst.RegisteredAt = now
		r.log.WithFields(logrus.Fields{"service": service, "endpoint": address}).Info("instance registered")
	}
	inst.ExpiresAt = now.Add(lease)

	meta, err := json.Marshal(inst)
	if err != nil {
		return Instance{}, fmt.Errorf("encode instance: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.leaseKey(service), redis.Z{Score: float64(inst.ExpiresAt.UnixMilli()), Member: address})
		pipe.HSet(ctx, r.metaKey(service), address, meta)
		pipe.SAdd(ctx, r.servicesKey(), service)
		return nil
	})
	if err != nil {
		return Instance{}, fmt.Errorf("register %s/%s: %w", service, address, err)
	}
	return inst, nil
}

// Deregister removes an instance.
func (r *RedisRegistry) Deregister(ctx context.Context, service, address string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.leaseKey(service), address)
		pipe.HDel(ctx, r.metaKey(service), address)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deregister %s/%s: %w", service, address, err)
	}
	return nil
}

// Resolve returns the live instances of service.
func (r *RedisRegistry) Resolve(ctx context.Context, service string) ([]Instance, error) {
	if _, err := r.evictService(ctx, service); err != nil {
		return nil, err
	}

	nowMs := r.now().UnixMilli()
	live, err := r.client.ZRangeByScore(ctx, r.leaseKey(service), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(nowMs, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", service, err)
	}
	if len(live) == 0 {
		return nil, unavailable(service)
	}

	metas, err := r.client.HMGet(ctx, r.metaKey(service), live...).Result()
	if err != nil {
		return nil, fmt.Errorf("resolve %s metadata: %w", service, err)
	}

	instances := make([]Instance, 0, len(live))
	for i, raw := range metas {
		inst := Instance{Service: service, Address: live[i]}
		if s, ok := raw.(string); ok {
			_ = json.Unmarshal([]byte(s), &inst)
		}
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Address < instances[j].Address })
	return instances, nil
}

// Services returns every service with live instances.
func (r *RedisRegistry) Services(ctx context.Context) (map[string][]Instance, error) {
	names, err := r.client.SMembers(ctx, r.servicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make(map[string][]Instance, len(names))
	for _, name := range names {
		instances, err := r.Resolve(ctx, name)
		if err != nil {
			continue
		}
		out[name] = instances
	}
	return out, nil
}

// EvictExpired removes expired instances of every known service.
func (r *RedisRegistry) EvictExpired(ctx context.Context) (int, error) {
	names, err := r.client.SMembers(ctx, r.servicesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list services: %w", err)
	}
	total := 0
	for _, name := range names {
		n, err := r.evictService(ctx, name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *RedisRegistry) evictService(ctx context.Context, service string) (int, error) {
	nowMs := strconv.FormatInt(r.now().UnixMilli(), 10)
	expired, err := r.client.ZRangeByScore(ctx, r.leaseKey(service), &redis.ZRangeBy{Min: "-inf", Max: nowMs}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired %s: %w", service, err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(expired))
	for i, addr := range expired {
		members[i] = addr
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.leaseKey(service), members...)
		pipe.HDel(ctx, r.metaKey(service), expired...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("evict %s: %w", service, err)
	}
	r.log.WithFields(logrus.Fields{"service": service, "evicted": len(expired)}).Warn("lease expired, instances evicted")
	return len(expired), nil
}
