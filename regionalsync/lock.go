package regionalsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const cycleLockKey = "lock:regional-sync"

// CycleLock guarantees a single reconciliation cycle at a time.
type CycleLock interface {
	TryAcquire(ctx context.Context) (release func(), err error)
}

// localRedisLock holds an in-process mutex and, when Redis is available, a
// redislock key shared by all replicas. Redis errors other than contention do
// not block the cycle.
type localRedisLock struct {
	mu     sync.Mutex
	redis  *redislock.Client
	key    string
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewCycleLock(rl *redislock.Client, ttl time.Duration, logger logrus.FieldLogger) CycleLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &localRedisLock{redis: rl, key: cycleLockKey, ttl: ttl, logger: logger}
}

func (l *localRedisLock) TryAcquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	if l.redis == nil {
		return l.mu.Unlock, nil
	}

	lock, err := l.redis.Obtain(ctx, l.key, l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			l.mu.Unlock()
			return nil, ErrCycleInProgress
		}
		l.logger.WithFields(logrus.Fields{"key": l.key}).Warn("redis lock unavailable, continuing with local lock: " + err.Error())
		return l.mu.Unlock, nil
	}

	stop := make(chan struct{})
	refreshed := make(chan struct{})
	go l.keepAlive(lock, stop, refreshed)

	return func() {
		close(stop)
		<-refreshed
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.WithFields(logrus.Fields{"key": l.key}).Warn("failed to release redis lock: " + err.Error())
		}
		l.mu.Unlock()
	}, nil
}

// keepAlive extends the lease every half TTL until stop is closed, so a cycle
// slower than the TTL keeps other replicas out.
func (l *localRedisLock) keepAlive(lock *redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := lock.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				l.logger.WithFields(logrus.Fields{"key": l.key}).Warn("failed to refresh redis lock: " + err.Error())
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}
