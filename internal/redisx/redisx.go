package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct{ Rdb *redis.Client }

func New(addr string, password string, db int) *Client {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Client{Rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Rdb.Ping(ctx).Err()
}

func (c *Client) Close() error { return c.Rdb.Close() }

// Load decodes the JSON value at key into dst. A missing key is (false, nil).
func (c *Client) Load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.Rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// a stale or foreign value; drop it rather than fail every read
		_ = c.Rdb.Del(ctx, key).Err()
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Store writes v as JSON with a TTL.
func (c *Client) Store(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.Rdb.TTL(ctx, key).Result()
}
