package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued means an advancement run was enqueued within the uniqueness window.
var ErrAlreadyQueued = errors.New("advancement run already queued")

// Enqueuer puts advancement runs on the queue for a serve process to pick up.
type Enqueuer struct {
	client *asynq.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewEnqueuer(redisOpt asynq.RedisConnOpt, log *slog.Logger) *Enqueuer {
	if log == nil {
		log = slog.Default()
	}
	return &Enqueuer{client: asynq.NewClient(redisOpt), log: log, now: time.Now}
}

func (e *Enqueuer) EnqueueAdvancement(ctx context.Context, triggeredBy string) (*asynq.TaskInfo, error) {
	task, err := NewAdvancementTask(triggeredBy, e.now())
	if err != nil {
		return nil, err
	}

	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, enqueueError(err)
	}

	e.log.InfoContext(ctx, "advancement task enqueued",
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
		slog.String("triggered_by", triggeredBy),
	)
	return info, nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}

func enqueueError(err error) error {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return ErrAlreadyQueued
	}
	return err
}
