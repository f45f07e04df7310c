package bot

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/handlers"
	errors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/pkg/logger"
)

// RecoveryMiddleware turns a panic into an internal error: reported, answered with the generic
// message and swallowed.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				if sendErr := c.Send(userMessage(c, errHandler, errors.NewInternalError(fmt.Errorf("panic: %v", r)))); sendErr != nil {
					log.Error("failed to notify user about panic", slog.Any("error", sendErr))
				}
				err = nil
			}()
			return next(c)
		}
	}
}

// ErrorHandlingMiddleware answers a failed update with the error's user message. The error is
// consumed so telebot's OnError only sees transport failures.
func ErrorHandlingMiddleware(errHandler *errors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if err := next(c); err != nil {
				_ = c.Send(userMessage(c, errHandler, err))
			}
			return nil
		}
	}
}

func userMessage(c telebot.Context, errHandler *errors.Handler, err error) string {
	if errHandler == nil {
		return errors.GenericUserMessage
	}
	if msg, _ := errHandler.Handle(handlers.RequestContext(c), err); msg != "" {
		return msg
	}
	return errors.GenericUserMessage
}

// LoggingMiddleware starts the request context with a fresh correlation id and logs the update.
// Free text that looks like a day count is logged as "day_count", never verbatim.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			start := time.Now()
			ctx := logger.NewCorrelationContext(handlers.RequestContext(c))
			c.Set(handlers.ContextKey, ctx)

			var userID int64
			if s := c.Sender(); s != nil {
				userID = s.ID
			}
			l := log.With(
				slog.Int64("user_id", userID),
				slog.String("action", describeUpdate(c)),
				slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
			)

			l.Debug("handling update")
			err := next(c)
			l.Info("handled update", slog.Duration("duration", time.Since(start)), slog.Any("error", err))
			return err
		}
	}
}

func describeUpdate(c telebot.Context) string {
	if cb := c.Callback(); cb != nil {
		return "callback:" + cb.Data
	}
	text := strings.TrimSpace(c.Text())
	if text != "" && strings.Trim(text, "0123456789") == "" {
		return "day_count"
	}
	if runes := []rune(text); len(runes) > 32 {
		return string(runes[:32]) + "…"
	}
	return text
}
