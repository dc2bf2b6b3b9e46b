package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production cursor store. Keys are namespaced with a prefix so
// several deployments can share one Redis.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a Redis-backed store. prefix may be empty.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) GetTime(ctx context.Context, key string) (time.Time, error) {
	s, err := r.GetString(ctx, key)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %s: %w", key, err)
	}
	return t, nil
}

func (r *Redis) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.SetString(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

func (r *Redis) GetInt(ctx context.Context, key string) (int64, error) {
	s, err := r.GetString(ctx, key)
	if err != nil || s == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) SetInt(ctx context.Context, key string, v int64) error {
	return r.SetString(ctx, key, strconv.FormatInt(v, 10))
}

func (r *Redis) GetString(ctx context.Context, key string) (string, error) {
	s, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor %s: %w", key, err)
	}
	return s, nil
}

func (r *Redis) SetString(ctx context.Context, key, v string) error {
	if err := r.client.Set(ctx, r.key(key), v, 0).Err(); err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}
