package lockx

import (
	"context"
	"time"
)

// Locker obtains cluster wide locks by key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// NoopLocker 单节点部署时不加锁
type NoopLocker struct{}

func (NoopLocker) Obtain(_ context.Context, key string, _ time.Duration) (Lock, error) {
	return noopLock(key), nil
}

type noopLock string

func (l noopLock) Key() string {
	return string(l)
}

func (noopLock) Release(context.Context) error {
	return nil
}
