package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	libstore "github.com/eko/gocache/lib/v4/store"
	redis "github.com/redis/go-redis/v9"
)

// redisType identifies this backend to gocache's CacheInterface.GetType.
const redisType = "redis"

// redisClient is the subset of *redis.Client this store needs, grounded on
// the teacher's RedisClientInterface in internal/pkg/xcache/redis.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	FlushAll(ctx context.Context) *redis.StatusCmd
}

// redisStore adapts a Redis client into gocache's generic store.Interface,
// JSON-encoding values. The teacher's internal/pkg/xcache/redis package does
// the same because no eko/gocache redis store package is vendored in the
// pack's go.mod.
type redisStore[T any] struct {
	client redisClient
	opts   *libstore.Options
}

func newRedisStore[T any](client redisClient, options ...libstore.Option) *redisStore[T] {
	return &redisStore[T]{client: client, opts: libstore.ApplyOptions(options...)}
}

func (s *redisStore[T]) Get(ctx context.Context, key any) (any, error) {
	var zero T

	k, _ := key.(string)

	raw, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return zero, libstore.NotFoundWithCause(err)
	}

	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return zero, err
	}

	return result, nil
}

func (s *redisStore[T]) Set(ctx context.Context, key any, value any, options ...libstore.Option) error {
	opts := libstore.ApplyOptionsWithDefault(s.opts, options...)

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	k, _ := key.(string)

	return s.client.Set(ctx, k, string(raw), opts.Expiration).Err()
}

func (s *redisStore[T]) Delete(ctx context.Context, key any) error {
	k, _ := key.(string)
	return s.client.Del(ctx, k).Err()
}

func (s *redisStore[T]) Invalidate(ctx context.Context, options ...libstore.InvalidateOption) error {
	return s.client.FlushAll(ctx).Err()
}

func (s *redisStore[T]) Clear(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

func (s *redisStore[T]) GetType() string { return redisType }
