// Package handlers holds asynq task handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/soberdays-bot/internal/advancement"
	"github.com/Proton-105/soberdays-bot/internal/jobs"
)

// Runner runs one advancement batch.
type Runner interface {
	Run(ctx context.Context) (advancement.Summary, error)
}

type AdvancementHandler struct {
	runner Runner
	log    *slog.Logger
}

func NewAdvancementHandler(runner Runner, log *slog.Logger) *AdvancementHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdvancementHandler{runner: runner, log: log}
}

// ProcessTask runs the batch. A run already in progress elsewhere is not a failure.
func (h *AdvancementHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := jobs.DecodeAdvancementPayload(t)
	if err != nil {
		h.log.ErrorContext(ctx, "advancement task: bad payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	summary, err := h.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, advancement.ErrBatchInProgress) {
			h.log.InfoContext(ctx, "advancement task: batch already running, skipped",
				slog.String("triggered_by", payload.TriggeredBy))
			return nil
		}
		return err
	}

	h.log.InfoContext(ctx, "advancement task completed",
		slog.String("triggered_by", payload.TriggeredBy),
		slog.Int("users_processed", summary.UsersProcessed),
		slog.Int("messages_sent", summary.MessagesSent),
		slog.Int("advanced", summary.Advanced),
		slog.Int("failed", summary.Failed),
	)
	return nil
}
