package redis

import (
	"context"
	"errors"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
)

var (
	redisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soberdays",
		Name:      "redis_requests_total",
		Help:      "Redis commands issued, by command name.",
	}, []string{"method"})
	redisErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soberdays",
		Name:      "redis_errors_total",
		Help:      "Failed Redis commands by command name. Cache misses are not errors.",
	}, []string{"method"})
	redisRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "soberdays",
		Name:      "redis_request_duration_seconds",
		Help:      "Redis command latency. Pipelines are observed as method=pipeline.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// MetricsHook records every command that passes through a go-redis client.
type MetricsHook struct{}

var _ goredis.Hook = MetricsHook{}

func (MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			redisErrorsTotal.WithLabelValues("dial").Inc()
		}
		return conn, err
	}
}

func (MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		timer := prometheus.NewTimer(redisRequestDuration.WithLabelValues(cmd.Name()))
		err := next(ctx, cmd)
		timer.ObserveDuration()
		observe(cmd.Name(), err)
		return err
	}
}

func (MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		timer := prometheus.NewTimer(redisRequestDuration.WithLabelValues("pipeline"))
		err := next(ctx, cmds)
		timer.ObserveDuration()
		for _, cmd := range cmds {
			observe(cmd.Name(), cmd.Err())
		}
		return err
	}
}

func observe(method string, err error) {
	redisRequestsTotal.WithLabelValues(method).Inc()
	if err != nil && !errors.Is(err, goredis.Nil) {
		redisErrorsTotal.WithLabelValues(method).Inc()
	}
}
