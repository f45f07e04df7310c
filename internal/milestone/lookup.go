// Package milestone resolves the message authored for a given day count.
package milestone

import (
	"context"
	"log/slog"

	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
)

// Source reads milestone messages from the ledger.
type Source interface {
	FindMessageForDay(ctx context.Context, day int) (string, bool, error)
}

// Lookup returns the first message for a day, reading through an optional cache.
type Lookup struct {
	source Source
	cache  *Cache
	log    *slog.Logger
}

type Option func(*Lookup)

// WithCache enables the Redis read-through cache.
func WithCache(cache *Cache) Option {
	return func(l *Lookup) {
		l.cache = cache
	}
}

func NewLookup(source Source, log *slog.Logger, opts ...Option) *Lookup {
	if log == nil {
		log = slog.Default()
	}

	l := &Lookup{source: source, log: log}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Lookup returns the body for day. Absence is reported through found, never as an error;
// days below 1 never have a message.
func (l *Lookup) Lookup(ctx context.Context, day int) (string, bool, error) {
	if day < 1 {
		return "", false, nil
	}

	if body, ok, err := l.cache.Get(ctx, day); err != nil {
		l.log.Warn("milestone cache read failed", slog.Int("day", day), slog.Any("error", err))
	} else if ok {
		return body, true, nil
	}

	body, found, err := l.source.FindMessageForDay(ctx, day)
	if err != nil {
		return "", false, apperrors.NewBackingStoreError("find message for day", err)
	}
	if !found {
		return "", false, nil
	}

	if err := l.cache.Set(ctx, day, body); err != nil {
		l.log.Warn("milestone cache write failed", slog.Int("day", day), slog.Any("error", err))
	}

	return body, true, nil
}
