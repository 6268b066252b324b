package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisConfig describes how to reach the Redis server.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisStore implements Store on top of a Redis server.
type RedisStore struct {
	inner *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("kvstore: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kvstore: redis ping failed: %w", err)
	}
	return &RedisStore{inner: client}, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{inner: client}
}

func translateRedisError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, redis.ErrClosed):
		return ErrClosed
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return fmt.Errorf("%w: %v", ErrWrongType, err)
	default:
		return err
	}
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	value, err := r.inner.Incr(ctx, key).Result()
	return value, translateRedisError(err)
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := r.inner.HGet(ctx, key, field).Result()
	return value, translateRedisError(err)
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := r.inner.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, translateRedisError(err)
	}
	return values, nil
}

func (r *RedisStore) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	pairs := make([]interface{}, 0, len(values)*2)
	for field, value := range values {
		pairs = append(pairs, field, value)
	}
	return translateRedisError(r.inner.HSet(ctx, key, pairs...).Err())
}

func (r *RedisStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	inserted, err := r.inner.HSetNX(ctx, key, field, value).Result()
	return inserted, translateRedisError(err)
}

func (r *RedisStore) HKeys(ctx context.Context, key string) ([]string, error) {
	fields, err := r.inner.HKeys(ctx, key).Result()
	return fields, translateRedisError(err)
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, member := range members {
		args[i] = member
	}
	added, err := r.inner.SAdd(ctx, key, args...).Result()
	return added, translateRedisError(err)
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.inner.SMembers(ctx, key).Result()
	return members, translateRedisError(err)
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.inner.SIsMember(ctx, key, member).Result()
	return ok, translateRedisError(err)
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		length, err := r.inner.LLen(ctx, key).Result()
		return length, translateRedisError(err)
	}
	args := make([]interface{}, len(values))
	for i, value := range values {
		args[i] = value
	}
	length, err := r.inner.LPush(ctx, key, args...).Result()
	return length, translateRedisError(err)
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := r.inner.LRange(ctx, key, start, stop).Result()
	return values, translateRedisError(err)
}

func (r *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return translateRedisError(r.inner.LTrim(ctx, key, start, stop).Err())
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return translateRedisError(r.inner.Del(ctx, keys...).Err())
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return translateRedisError(r.inner.Ping(ctx).Err())
}

func (r *RedisStore) Close() error {
	return r.inner.Close()
}
