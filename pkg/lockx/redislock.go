package lockx

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

var ErrNotObtained = redislock.ErrNotObtained

type redisOption struct {
	retryInterval time.Duration
	retryCount    int
}

type RedisOption func(*redisOption)

// WithRetry 获取锁失败后的重试策略
func WithRetry(interval time.Duration, count int) RedisOption {
	return func(o *redisOption) {
		o.retryInterval = interval
		o.retryCount = count
	}
}

// RedisLocker is a Locker backed by bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	redisOption
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	o := redisOption{
		retryInterval: 50 * time.Millisecond,
		retryCount:    20,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisLocker{
		client:      redislock.New(client),
		redisOption: o,
	}
}

func (r *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	var strategy redislock.RetryStrategy = redislock.NoRetry()
	if r.retryCount > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(r.retryInterval), r.retryCount)
	}
	l, err := r.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: strategy})
	if err != nil {
		return nil, errors.Wrapf(err, "obtain lock %s", key)
	}
	return &redisLock{lock: l}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l *redisLock) Key() string {
	return l.lock.Key()
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := l.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return errors.WithStack(err)
	}
	return nil
}
