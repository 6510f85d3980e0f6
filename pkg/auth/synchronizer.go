package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/petal/pkg/redis"
)

const (
	DefaultLockTTL     = 30 * time.Second
	DefaultLockTimeout = 10 * time.Second
)

// heldLock is a lock owned by this process until Release.
type heldLock interface {
	Key() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type acquireFunc func(ctx context.Context, key string, ttl, timeout time.Duration) (heldLock, error)

// RedisSynchronizer serializes token refreshes for the same credentials
// across processes.
type RedisSynchronizer struct {
	acquire acquireFunc
	ttl     time.Duration
	timeout time.Duration
	logger  ectologger.Logger
}

func NewRedisSynchronizer(locker *redis.Locker, ttl time.Duration, logger ectologger.Logger) *RedisSynchronizer {
	return newSynchronizer(func(ctx context.Context, key string, ttl, timeout time.Duration) (heldLock, error) {
		lock, err := locker.AcquireWait(ctx, key, ttl, timeout)
		if err != nil {
			return nil, err
		}
		return lock, nil
	}, ttl, logger)
}

func newSynchronizer(acquire acquireFunc, ttl time.Duration, logger ectologger.Logger) *RedisSynchronizer {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisSynchronizer{acquire: acquire, ttl: ttl, timeout: DefaultLockTimeout, logger: logger}
}

// For returns a SynchronizeRefreshAccessToken hook locking on key. The lock
// is extended every half TTL for as long as the refresh holds it.
func (s *RedisSynchronizer) For(key string) func(context.Context) (func(), error) {
	return func(ctx context.Context) (func(), error) {
		lock, err := s.acquire(ctx, "oauth:"+key, s.ttl, s.timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token refresh lock: %w", err)
		}

		// the caller's context may be done before the lock is released
		lockCtx := context.WithoutCancel(ctx)
		stop := make(chan struct{})
		done := make(chan struct{})
		go s.keepAlive(lockCtx, lock, stop, done)

		return func() {
			close(stop)
			<-done
			if err := lock.Release(lockCtx); err != nil {
				s.logger.WithContext(ctx).WithError(err).WithField("lock", lock.Key()).Warn("failed to release token refresh lock")
			}
		}, nil
	}
}

func (s *RedisSynchronizer) keepAlive(ctx context.Context, lock heldLock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, s.ttl); err != nil {
				s.logger.WithContext(ctx).WithError(err).WithField("lock", lock.Key()).Warn("failed to extend token refresh lock")
				return
			}
		}
	}
}
