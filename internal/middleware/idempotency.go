package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/handlers"
	"github.com/Proton-105/soberdays-bot/internal/idempotency"
)

// UpdateTTL bounds how long a processed update is remembered. Telegram redelivers within minutes.
const UpdateTTL = 24 * time.Hour

// Idempotency runs the chain at most once per Telegram update. A failed run leaves no record,
// so Telegram's retry of the same update is handled again.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			key := updateKey(c)
			if key == "" {
				return next(c)
			}

			ctx := handlers.RequestContext(c)

			result, err := manager.Execute(ctx, key, UpdateTTL, func(context.Context) (interface{}, error) {
				return nil, next(c)
			})
			if err != nil {
				if errors.Is(err, idempotency.ErrRequestInProgress) {
					log.Debug("duplicate update still in progress", slog.String("key", key))
					return nil
				}
				return err
			}

			if result != nil && result.FromCache {
				log.Debug("duplicate update skipped", slog.String("key", key))
			}

			return nil
		}
	}
}

// updateKey prefers Telegram's update id, which is stable across webhook redeliveries.
// Contexts built without an update fall back to the callback or message identity.
func updateKey(c telebot.Context) string {
	if c == nil {
		return ""
	}
	if id := c.Update().ID; id != 0 {
		return idempotency.GenerateKey("tg-update", id)
	}

	if cb := c.Callback(); cb != nil && cb.ID != "" {
		return idempotency.GenerateKey("tg-callback", cb.ID)
	}
	if msg := c.Message(); msg != nil && msg.ID != 0 && msg.Chat != nil {
		return idempotency.GenerateKey("tg-msg", msg.Chat.ID, msg.ID)
	}
	return ""
}
