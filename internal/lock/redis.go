// Package lock provides the cross-process replication lock backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another process holds the lock for longer
// than the locker is willing to wait.
var ErrNotObtained = errors.New("lock not obtained")

const (
	defaultTTL     = 30 * time.Second
	retryBackoff   = 100 * time.Millisecond
	defaultRetries = 50
)

// RedisLocker hands out short-lived Redis locks.
type RedisLocker struct {
	client  *redis.Client
	locker  *redislock.Client
	ttl     time.Duration
	retries int
}

// Connect dials Redis at addr and verifies the connection.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	slog.InfoContext(ctx, "Connected to Redis", "addr", addr)
	return NewRedisLocker(client, ttl), nil
}

// NewRedisLocker wraps an existing client. A non-positive ttl selects the
// default.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		client:  client,
		locker:  redislock.New(client),
		ttl:     ttl,
		retries: defaultRetries,
	}
}

// Acquire blocks until key is held, the retries run out or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryBackoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// Expired under us; the transaction already finished.
			return nil
		}
		return err
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
