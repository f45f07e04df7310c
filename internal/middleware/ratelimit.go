package middleware

import (
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/ratelimit"
	"github.com/Proton-105/soberdays-bot/pkg/metrics"
)

// RateLimitMiddleware enforces per-user rate limits for incoming Telegram updates.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	t       i18n.Translator
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, t i18n.Translator, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		t:       t,
		log:     log,
	}
}

// Handle returns a telebot middleware that enforces per-user rate limits. Limiter failures let
// the update through.
func (m *RateLimitMiddleware) Handle(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if m.limiter == nil || m.rules == nil || !m.rules.Enabled() {
			return next(c)
		}

		sender := c.Sender()
		if sender == nil {
			return next(c)
		}

		userID := sender.ID
		if m.rules.IsWhitelisted(userID) {
			return next(c)
		}

		limit, window, err := m.rules.GetPerUserLimit()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(c)
		}

		result, err := m.limiter.Check(handlers.RequestContext(c), ratelimit.UserKey(userID), limit, window)
		if err != nil {
			m.log.Warn("rate limiter error", slog.Int64("user_id", userID), slog.Any("error", err))
			return next(c)
		}

		if result.Allowed {
			return next(c)
		}

		retryAfter := result.RetryAfter(time.Now())
		appErr := apperrors.NewRateLimitError(retryAfter)
		metrics.RecordError(appErr.Code, string(appErr.Severity))
		m.log.Warn("rate limit exceeded", slog.Int64("user_id", userID), slog.Int("retry_after", retryAfter))

		if c.Callback() != nil {
			_ = c.Respond()
		}
		if m.t != nil {
			return c.Send(m.t.T("errors.rate_limited"))
		}
		return c.Send(appErr.UserMessage)
	}
}
