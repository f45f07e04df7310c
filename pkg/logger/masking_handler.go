package logger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const masked = "***"

// Attribute keys containing any of these fragments are masked, e.g. cron_token or database_dsn.
var sensitiveFragments = []string{"password", "token", "secret", "api_key", "authorization", "dsn"}

// botTokenPattern matches Telegram bot tokens that leak into error strings such as request URLs.
var botTokenPattern = regexp.MustCompile(`\d{6,}:[A-Za-z0-9_-]{30,}`)

// MaskingHandler redacts sensitive attributes and bot tokens before delegating.
type MaskingHandler struct {
	next slog.Handler
}

func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = maskAttr(a)
	}
	return &MaskingHandler{next: h.next.WithAttrs(out)}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, botTokenPattern.ReplaceAllString(record.Message, masked), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func maskAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, masked)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		children := make([]any, len(group))
		for i, child := range group {
			children[i] = maskAttr(child)
		}
		return slog.Group(a.Key, children...)
	case slog.KindString:
		return slog.String(a.Key, botTokenPattern.ReplaceAllString(v.String(), masked))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, botTokenPattern.ReplaceAllString(err.Error(), masked))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
