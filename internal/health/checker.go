// Package health aggregates component checks for the readiness probe and diagnostics.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc/pool"
	"gopkg.in/telebot.v3"
)

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 3 * time.Second

const statusOK = "OK"

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Report is the outcome of one Check run.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// Failed lists the components that did not report OK, sorted by name.
func (r Report) Failed() []string {
	var failed []string
	for name, status := range r.Components {
		if status != statusOK {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Checker aggregates health checks for multiple components.
type Checker struct {
	log     *slog.Logger
	timeout time.Duration
	names   []string
	checks  map[string]Checkable
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}

	return &Checker{
		log:     log,
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]Checkable),
	}
}

// AddCheck registers a checkable component by name. It is not safe to call concurrently with Check.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	if _, exists := c.checks[name]; !exists {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// Check runs all registered health checks in parallel, each under its own timeout.
func (c *Checker) Check(ctx context.Context) Report {
	statuses := make([]string, len(c.names))

	p := pool.New().WithMaxGoroutines(len(c.names) + 1)
	for i, name := range c.names {
		p.Go(func() {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			if err := c.checks[name].HealthCheck(checkCtx); err != nil {
				c.log.Warn("health check failed", slog.String("component", name), slog.Any("error", err))
				statuses[i] = err.Error()
				return
			}
			statuses[i] = statusOK
		})
	}
	p.Wait()

	report := Report{Healthy: true, Components: make(map[string]string, len(c.names))}
	for i, name := range c.names {
		report.Components[name] = statuses[i]
		if statuses[i] != statusOK {
			report.Healthy = false
		}
	}

	return report
}

// Pinger is satisfied by the ledger and by database handles.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerChecker verifies the ledger store answers.
type LedgerChecker struct {
	ledger Pinger
}

func NewLedgerChecker(l Pinger) *LedgerChecker {
	return &LedgerChecker{ledger: l}
}

func (c *LedgerChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.ledger == nil {
		return errors.New("ledger is not configured")
	}
	return c.ledger.Ping(ctx)
}

// RedisPinger abstracts the subset of redis.Client used for health checks.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to a Redis instance.
type RedisChecker struct {
	pinger RedisPinger
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(pinger RedisPinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

// HealthCheck issues a PING command against Redis.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}

// TelegramChecker verifies that the bot completed its getMe handshake.
type TelegramChecker struct {
	bot *telebot.Bot
}

// NewTelegramChecker constructs a TelegramChecker.
func NewTelegramChecker(bot *telebot.Bot) *TelegramChecker {
	return &TelegramChecker{bot: bot}
}

// HealthCheck ensures the underlying bot is initialized.
func (c *TelegramChecker) HealthCheck(context.Context) error {
	if c == nil || c.bot == nil || c.bot.Me == nil || c.bot.Me.ID == 0 {
		return errors.New("telegram bot is not initialized")
	}
	return nil
}
