package errors

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/soberdays-bot/pkg/logger"
)

// Handler logs errors with their correlation id, reports severe ones to Sentry and
// picks the text shown to the user.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, sentryEnabled: sentryEnabled}
}

// Handle returns the message for the user and whether the failed operation may be retried.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	appErr, known := classify(err)

	attrs := make([]slog.Attr, 0, 6)
	if known {
		attrs = append(attrs, slog.String("code", appErr.Code))
	}
	attrs = append(attrs,
		slog.String("message", appErr.Message),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	)
	if cause := appErr.Unwrap(); cause != nil && known {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		attrs = append(attrs, slog.String("correlation_id", cid))
	}

	level, msg := slog.LevelError, "application error"
	switch {
	case !known:
		msg = "unknown error"
	case appErr.Severity == SeverityLow:
		level = slog.LevelWarn
	}
	h.log.LogAttrs(ctx, level, msg, attrs...)

	if h.sentryEnabled && reportable(appErr, known) {
		capture(err, appErr, known)
	}

	if appErr.UserMessage == "" {
		return GenericUserMessage, appErr.Retryable
	}
	return appErr.UserMessage, appErr.Retryable
}

// classify extracts the AppError from err. Foreign errors become a high-severity,
// non-retryable view with the generic user message.
func classify(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return &AppError{
		Message:     err.Error(),
		UserMessage: GenericUserMessage,
		Severity:    SeverityHigh,
	}, false
}

func reportable(appErr *AppError, known bool) bool {
	if !known {
		return true
	}
	return appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh
}

func capture(err error, appErr *AppError, known bool) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if known {
			scope.SetTag("code", appErr.Code)
		}
		scope.SetTag("severity", string(appErr.Severity))
		sentry.CaptureException(err)
	})
}
