package savedata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisKV keeps a legacy namespace in Redis under "<origin>:<key>".
type RedisKV struct {
	client *redis.Client
	origin string
}

// NewRedisKV connects to addr and verifies the connection.
func NewRedisKV(ctx context.Context, addr string, db int, origin string) (*RedisKV, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	sub("legacy").Debug("redis namespace opened", "addr", addr, "db", db, "origin", origin)
	return &RedisKV{client: client, origin: origin}, nil
}

func (r *RedisKV) key(k string) string {
	return r.origin + ":" + k
}

// Keys scans the keys of the origin with the origin prefix removed.
func (r *RedisKV) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.origin+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.origin+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

// Get returns the value of key; ok is false when it is absent.
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key without expiry.
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Close closes the client.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
