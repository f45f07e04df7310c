package jobs

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/soberdays-bot/pkg/config"
)

// Scheduler enqueues the advancement run on the configured cron, evaluated in the configured
// timezone. Replicas may all run one: task uniqueness lets a single enqueue through.
type Scheduler struct {
	inner *asynq.Scheduler
	cron  string
	log   *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, cfg config.SchedulerConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{cron: cfg.Cron, log: log}
	s.inner = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location:        cfg.Location(),
		LogLevel:        asynq.WarnLevel,
		PostEnqueueFunc: s.afterEnqueue,
	})
	return s
}

// Start registers the advancement entry and begins ticking.
func (s *Scheduler) Start() error {
	task, err := NewAdvancementTask("scheduler", time.Now())
	if err != nil {
		return err
	}
	entryID, err := s.inner.Register(s.cron, task)
	if err != nil {
		return err
	}
	s.log.Info("scheduler started", slog.String("cron", s.cron), slog.String("entry_id", entryID))
	return s.inner.Start()
}

func (s *Scheduler) Shutdown() {
	s.inner.Shutdown()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) afterEnqueue(info *asynq.TaskInfo, err error) {
	switch {
	case err == nil:
		s.log.Info("advancement enqueued", slog.String("task_id", info.ID))
	case errors.Is(enqueueError(err), ErrAlreadyQueued):
		s.log.Info("advancement already queued by another replica")
	default:
		s.log.Error("advancement enqueue failed", slog.Any("error", err))
	}
}
