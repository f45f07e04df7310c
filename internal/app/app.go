// Package app assembles the process from configuration: stores, domain services, the chat
// surface, the scheduler and the operational HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/viper"

	"github.com/Proton-105/soberdays-bot/internal/advancement"
	"github.com/Proton-105/soberdays-bot/internal/bot"
	"github.com/Proton-105/soberdays-bot/internal/database"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/health"
	"github.com/Proton-105/soberdays-bot/internal/httpapi"
	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/idempotency"
	"github.com/Proton-105/soberdays-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/soberdays-bot/internal/jobs/handlers"
	"github.com/Proton-105/soberdays-bot/internal/ledger"
	"github.com/Proton-105/soberdays-bot/internal/lifecycle"
	"github.com/Proton-105/soberdays-bot/internal/middleware"
	"github.com/Proton-105/soberdays-bot/internal/milestone"
	"github.com/Proton-105/soberdays-bot/internal/progress"
	"github.com/Proton-105/soberdays-bot/internal/ratelimit"
	"github.com/Proton-105/soberdays-bot/internal/state"
	"github.com/Proton-105/soberdays-bot/migrations"
	"github.com/Proton-105/soberdays-bot/pkg/config"
	"github.com/Proton-105/soberdays-bot/pkg/graceful"
	"github.com/Proton-105/soberdays-bot/pkg/logger"
	"github.com/Proton-105/soberdays-bot/pkg/metrics"
	appredis "github.com/Proton-105/soberdays-bot/pkg/redis"
)

const sentryFlushTimeout = 2 * time.Second

// App owns the long-lived resources. Close releases them in reverse order of acquisition.
type App struct {
	Config *config.Config
	Log    *slog.Logger

	viper    *viper.Viper
	db       *sql.DB
	redis    *appredis.Client
	ledger   ledger.Ledger
	catalog  *i18n.Manager
	shutdown *lifecycle.Shutdown
}

// New loads configuration and sets up logging and error reporting. Stores are opened lazily
// by the commands that need them.
func New() (*App, error) {
	cfg, v, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			return nil, fmt.Errorf("init sentry: %w", err)
		}
	}

	log := logger.New(*cfg)
	a := &App{
		Config:   cfg,
		Log:      log,
		viper:    v,
		shutdown: lifecycle.NewShutdown(log),
	}

	if cfg.Sentry.Enabled {
		a.shutdown.Register("sentry", func(context.Context) error {
			sentry.Flush(sentryFlushTimeout)
			return nil
		})
	}

	catalog, err := i18n.Load(cfg.I18n.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog
	for _, lang := range catalog.Languages() {
		if missing := catalog.MissingKeys(lang); len(missing) > 0 {
			log.Warn("incomplete message catalog", slog.String("lang", lang), slog.Any("keys", missing))
		}
	}

	return a, nil
}

// OpenDatabase connects to PostgreSQL and builds the ledger.
func (a *App) OpenDatabase(ctx context.Context) error {
	if a.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", a.Config.GetDBConnectionString())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if a.Config.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.Config.Database.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	a.db = db
	a.ledger = ledger.NewPostgres(db, a.Log)
	a.shutdown.Register("database", lifecycle.Closer(db))
	return nil
}

// OpenRedis connects to Redis.
func (a *App) OpenRedis(ctx context.Context) error {
	if a.redis != nil {
		return nil
	}

	client, err := appredis.New(ctx, appredis.FromAppConfig(a.Config.Redis))
	if err != nil {
		return err
	}

	a.redis = client
	a.shutdown.Register("redis", lifecycle.Closer(client))
	return nil
}

// Migrate applies pending migrations from the configured directory, or the embedded set when
// no directory is configured.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if err := a.OpenDatabase(ctx); err != nil {
		return nil, err
	}
	m := database.NewMigrator(a.db, a.Log)
	if dir := a.Config.Database.MigrationsDir; dir != "" {
		return m.ApplyDir(ctx, dir)
	}
	return m.Apply(ctx, migrations.FS)
}

func (a *App) milestones() *milestone.Lookup {
	var opts []milestone.Option
	if a.Config.Milestone.CacheEnabled && a.redis != nil {
		opts = append(opts, milestone.WithCache(milestone.NewCache(a.redis, a.Config.Milestone.CacheTTL)))
	}
	return milestone.NewLookup(a.ledger, a.Log, opts...)
}

// NewEngine builds the advancement engine over the opened stores. Without Redis the batch lock
// is skipped and the conditional update alone prevents double advancement.
func (a *App) NewEngine(sender advancement.Sender) *advancement.Engine {
	opts := []advancement.Option{
		advancement.WithConcurrency(a.Config.Scheduler.Concurrency),
		advancement.WithFormatter(advancement.DailyFormatter(a.catalog.Default())),
	}
	if a.redis != nil {
		opts = append(opts, advancement.WithLocker(advancement.NewRedisLock(a.redis.Client, advancement.DefaultLockTTL, a.Log)))
	}

	return advancement.NewEngine(a.ledger, a.milestones(), sender, a.Log, opts...)
}

// NewSender builds a send-only Telegram client for direct messages.
func (a *App) NewSender() (*bot.Messenger, error) {
	tb, err := bot.NewOfflineSender(a.Config.Bot.Token)
	if err != nil {
		return nil, err
	}
	return bot.NewMessenger(tb, apperrors.NewCircuitBreaker(), a.Log), nil
}

// Enqueuer builds an asynq client for queueing advancement runs.
func (a *App) Enqueuer() *jobs.Enqueuer {
	e := jobs.NewEnqueuer(a.asynqOpt(), a.Log)
	a.shutdown.Register("asynq client", lifecycle.Closer(e))
	return e
}

func (a *App) asynqOpt() asynq.RedisConnOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// Serve runs the bot, the scheduler, the worker and the HTTP server until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.OpenDatabase(ctx); err != nil {
		return err
	}
	if err := a.OpenRedis(ctx); err != nil {
		return err
	}

	cfg := a.Config
	log := a.Log
	rdb := a.redis.Client
	translator := a.catalog.Default()

	config.Watch(a.viper, func(next *config.Config) {
		logger.SetLevel(next.Logger.Level)
		log.Info("configuration reloaded", slog.String("log_level", next.Logger.Level))
	}, func(err error) {
		log.Warn("configuration reload rejected", slog.Any("error", err))
	})

	fsm := state.NewStateMachine(state.NewRedisStorage(rdb, log, cfg.State.TTL), log, rdb)
	idem := idempotency.NewManager(idempotency.NewRedisStore(rdb, log), log)
	milestones := a.milestones()

	svc := progress.NewService(a.ledger, milestones, log, progress.WithStateMachine(fsm))

	rules := ratelimit.NewRules(cfg.RateLimit)
	rateLimit := middleware.NewRateLimitMiddleware(ratelimit.NewRedisLimiter(rdb, log), rules, translator, log)

	chat, err := bot.New(*cfg, log, bot.Deps{
		Progress:    svc,
		FSM:         fsm,
		Translator:  translator,
		Idempotency: idem,
		RateLimit:   rateLimit,
		Errors:      apperrors.NewHandler(log, cfg.Sentry.Enabled),
	})
	if err != nil {
		return err
	}

	messenger := bot.NewMessenger(chat.Telebot(), apperrors.NewCircuitBreaker(), log)
	engine := a.NewEngine(messenger)

	checker := health.NewChecker(log)
	checker.AddCheck("database", health.NewLedgerChecker(a.ledger))
	checker.AddCheck("redis", health.NewRedisChecker(rdb))
	checker.AddCheck("telegram", health.NewTelegramChecker(chat.Telebot()))
	probes := lifecycle.NewProbes(checker, log)

	handler := httpapi.NewHandler(httpapi.Deps{
		Runner:      engine,
		Probes:      probes,
		Store:       a.ledger,
		Idempotency: idem,
		CronToken:   cfg.Server.CronToken,
		Environment: map[string]bool{
			"hasBotToken":         cfg.Bot.Token != "",
			"hasDatabasePassword": cfg.Database.Password != "",
			"hasCronToken":        cfg.Server.CronToken != "",
			"sentryEnabled":       cfg.Sentry.Enabled,
		},
	}, log)
	httpServer := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Server.ShutdownTimeout)

	if cfg.Scheduler.Enabled {
		worker := jobs.NewWorker(a.asynqOpt(), log)
		worker.Handle(jobs.TaskTypeAdvancement, jobhandlers.NewAdvancementHandler(engine, log))
		if err := worker.Start(); err != nil {
			return fmt.Errorf("start jobs worker: %w", err)
		}
		a.shutdown.Register("jobs worker", lifecycle.Stopper(worker.Shutdown))

		scheduler := jobs.NewScheduler(a.asynqOpt(), cfg.Scheduler, log)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.shutdown.Register("scheduler", lifecycle.Stopper(scheduler.Shutdown))
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		metrics.NewStateCollector(fsm, metrics.DefaultCollectInterval).Run(ctx)
		return nil
	})

	p.Go(func(ctx context.Context) error {
		return httpServer.ListenAndServe(ctx)
	})

	p.Go(func(ctx context.Context) error {
		go chat.Start()
		<-ctx.Done()
		chat.Stop()
		return nil
	})

	log.Info("soberdays bot running",
		slog.String("env", cfg.AppEnv),
		slog.String("mode", cfg.Bot.Mode),
		slog.String("http", cfg.Server.Port),
		slog.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	if err := p.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close runs the registered shutdown hooks within the configured timeout.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.shutdown.Execute(ctx)
}
