package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrLockHeld is returned by Locker.Acquire when another instance holds
	// the lock.
	ErrLockHeld = errors.New("reconcile lock held by another instance")

	// ErrLockLost is returned by Lock.Extend when the lock expired and may
	// now belong to another instance.
	ErrLockLost = errors.New("reconcile lock lost")
)

// Locker provides cross-instance mutual exclusion for a reconciliation
// batch.
type Locker interface {
	Acquire(ctx context.Context) (Lock, error)
}

// Lock is a held Locker lock. Extend pushes its expiry out by the full TTL
// and must be called more often than the TTL while the batch runs. Release
// must be called once the batch is done.
type Lock interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// NopLocker always succeeds. It is used for single-instance deployments.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context) (Lock, error) { return nopLock{}, nil }

type nopLock struct{}

func (nopLock) Extend(context.Context) error  { return nil }
func (nopLock) Release(context.Context) error { return nil }

// DefaultLockKey is the Redis key guarding a batch.
const DefaultLockKey = "astros:reconcile:lock"

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken over is never released by its old owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a single-key Redis lock (SET NX PX). The TTL bounds how long
// a crashed instance can block others; a running batch keeps it alive with
// Lock.Extend.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a lock on key with the given TTL.
func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context) (Lock, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLock{locker: l, token: token}, nil
}

type redisLock struct {
	locker *RedisLocker
	token  string
}

func (k *redisLock) Extend(ctx context.Context) error {
	l := k.locker
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, k.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (k *redisLock) Release(ctx context.Context) error {
	l := k.locker
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, k.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
