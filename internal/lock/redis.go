package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it still carries our token.
// KEYS[1] = lease key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only if it still carries our token.
// KEYS[1] = lease key
// ARGV[1] = owner token
// ARGV[2] = ttl in milliseconds
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker on a shared Redis so that several service
// instances exclude each other
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker backed by Redis
func NewRedisLocker(addr, password string, db int) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLocker{client: rdb, prefix: "provisioner:lease:"}
}

// Ping checks that Redis is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock error: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{locker: l, key: key, token: token}, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.locker.client, []string{l.locker.prefix + l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis lease refresh error: %w", err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.locker.client, []string{l.locker.prefix + l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redis unlock error: %w", err)
	}
	return nil
}
