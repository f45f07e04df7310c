package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// workerConcurrency stays low: one advancement run fans out on its own.
const workerConcurrency = 2

// Worker processes queued tasks in the background.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

func NewWorker(redisOpt asynq.RedisConnOpt, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		server: asynq.NewServer(redisOpt, asynq.Config{
			Queues:      DefaultQueues,
			Concurrency: workerConcurrency,
			LogLevel:    asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.ErrorContext(ctx, "task failed", slog.String("task_type", task.Type()), slog.Any("error", err))
			}),
		}),
		mux: asynq.NewServeMux(),
		log: log,
	}
}

func (w *Worker) Handle(taskType string, h asynq.Handler) {
	w.mux.Handle(taskType, h)
}

// Start returns once the server is running; tasks are processed on asynq's goroutines.
func (w *Worker) Start() error {
	w.log.Info("jobs worker starting", slog.Int("concurrency", workerConcurrency))
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks up to asynq's shutdown timeout.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.log.Info("jobs worker stopped")
}
