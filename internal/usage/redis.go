package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyUsage = "usage:%s:%s"
	fieldA   = "provider_a_count"
	fieldB   = "provider_b_count"
)

// RedisTracker stores one hash per user and month. HINCRBY makes the
// increment atomic; keys expire after the month has long passed.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 62 * 24 * time.Hour
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (r *RedisTracker) Get(ctx context.Context, userID, yearMonth string) (Counter, error) {
	key := fmt.Sprintf(keyUsage, userID, yearMonth)
	var vals *redis.SliceCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, key, fieldA, 0)
		p.HSetNX(ctx, key, fieldB, 0)
		p.Expire(ctx, key, r.ttl)
		vals = p.HMGet(ctx, key, fieldA, fieldB)
		return nil
	})
	if err != nil {
		return Counter{}, fmt.Errorf("redis usage get %s: %w", key, err)
	}
	return counterFromHash(userID, yearMonth, vals.Val())
}

func (r *RedisTracker) Increment(ctx context.Context, userID, yearMonth string, m Meter) (Counter, error) {
	field, other := fieldA, fieldB
	switch m {
	case MeterA:
	case MeterB:
		field, other = fieldB, fieldA
	default:
		return Counter{}, ErrUnknownMeter
	}
	key := fmt.Sprintf(keyUsage, userID, yearMonth)
	var vals *redis.SliceCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, field, 1)
		p.HSetNX(ctx, key, other, 0)
		p.Expire(ctx, key, r.ttl)
		vals = p.HMGet(ctx, key, fieldA, fieldB)
		return nil
	})
	if err != nil {
		return Counter{}, fmt.Errorf("redis usage increment %s: %w", key, err)
	}
	return counterFromHash(userID, yearMonth, vals.Val())
}

func counterFromHash(userID, yearMonth string, vals []any) (Counter, error) {
	c := Counter{UserID: userID, YearMonth: yearMonth}
	counts := [2]*int{&c.CountA, &c.CountB}
	for i, v := range vals {
		if i >= len(counts) || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return c, fmt.Errorf("unexpected usage value %T", v)
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return c, fmt.Errorf("parse usage value %q: %w", s, err)
		}
		*counts[i] = n
	}
	return c, nil
}
