package advancement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	batchLockKey = "advancement:lock"
	// DefaultLockTTL bounds how long a crashed holder blocks the next run. A live holder keeps
	// renewing it, so long batches never lose the lock.
	DefaultLockTTL = 15 * time.Minute
)

// ErrBatchInProgress is returned when another advancement run holds the batch lock.
var ErrBatchInProgress = errors.New("advancement batch already in progress")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker serializes advancement runs across processes.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// RedisLock is a SETNX lock owned by a random token.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisLock(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = slog.Default()
	}

	return &RedisLock{client: client, ttl: ttl, log: log}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, batchLockKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire advancement lock: %w", err)
	}
	if !acquired {
		return nil, ErrBatchInProgress
	}

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(renewCtx, token)
	}()

	return func() {
		stop()
		<-done

		releaseCtx := context.WithoutCancel(ctx)
		if err := releaseScript.Run(releaseCtx, l.client, []string{batchLockKey}, token).Err(); err != nil {
			l.log.Error("failed to release advancement lock", slog.Any("error", err))
		}
	}, nil
}

// keepAlive pushes the expiry forward every third of the TTL until ctx ends or the lock is
// found under another token.
func (l *RedisLock) keepAlive(ctx context.Context, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		extended, err := extendScript.Run(ctx, l.client, []string{batchLockKey}, token, l.ttl.Milliseconds()).Int64()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			l.log.Warn("failed to extend advancement lock", slog.Any("error", err))
		case extended == 0:
			l.log.Error("advancement lock lost while the batch was running")
			return
		}
	}
}
