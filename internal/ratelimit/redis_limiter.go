package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soberdays",
		Name:      "ratelimit_checks_total",
		Help:      "Rate limit checks by result.",
	}, []string{"result"})
	redisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "soberdays",
		Name:      "ratelimit_redis_errors_total",
		Help:      "Redis failures seen by the limiter.",
	})
)

// slidingWindow trims hits older than the window and records a new hit only when it fits, so
// rejected updates do not extend a user's penalty.
//
// KEYS[1] hit set; ARGV: now ms, window ms, limit, member.
// Returns {allowed, hits in window, reset ms}.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. (now - window))
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", KEYS[1], window)

local reset = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisLimiter keeps each key's hits in a sorted set scored by millisecond timestamp.
type RedisLimiter struct {
	client *redis.Client
	log    *slog.Logger
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, log *slog.Logger) Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{client: client, log: log, now: time.Now}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("ratelimit: redis client is not configured")
	}

	now := l.now()
	if limit <= 0 {
		checksTotal.WithLabelValues("rejected").Inc()
		return &Result{ResetAt: now.Add(window)}, nil
	}

	reply, err := slidingWindow.Run(ctx, l.client, []string{"ratelimit:" + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err == nil && len(reply) != 3 {
		err = fmt.Errorf("ratelimit: unexpected script reply %v", reply)
	}
	if err != nil {
		redisErrorsTotal.Inc()
		l.log.Error("rate limiter script failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	res := &Result{
		Allowed:   reply[0] == 1,
		Remaining: max(limit-int(reply[1]), 0),
		ResetAt:   time.UnixMilli(reply[2]),
	}
	if res.Allowed {
		checksTotal.WithLabelValues("allowed").Inc()
	} else {
		checksTotal.WithLabelValues("rejected").Inc()
	}
	return res, nil
}
