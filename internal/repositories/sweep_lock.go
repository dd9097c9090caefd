package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultSweepLockKey = "subscriptions:reconcile:lock"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisSweepLock keeps concurrent replicas from running the reconciliation sweep twice.
type RedisSweepLock struct {
	rdb *redis.Client
	key string
}

func NewRedisSweepLock(rdb *redis.Client, key string) *RedisSweepLock {
	if key == "" {
		key = defaultSweepLockKey
	}
	return &RedisSweepLock{rdb: rdb, key: key}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Acquire tries to take the lock for ttl. ok is false when another holder has it.
func (l *RedisSweepLock) Acquire(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Extend renews the lock for ttl. ok is false when token no longer owns it.
func (l *RedisSweepLock) Extend(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if token == "" {
		return false, errors.New("extend: empty token")
	}
	n, err := extendScript.Run(ctx, l.rdb, []string{l.key}, token, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("extend %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release drops the lock if token still owns it.
func (l *RedisSweepLock) Release(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("release: empty token")
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
