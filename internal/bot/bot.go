package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/handlers"
	"github.com/Proton-105/soberdays-bot/internal/bot/keyboard"
	errors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/idempotency"
	"github.com/Proton-105/soberdays-bot/internal/middleware"
	"github.com/Proton-105/soberdays-bot/internal/state"
	"github.com/Proton-105/soberdays-bot/pkg/config"
)

// Deps are the collaborators the chat surface needs.
type Deps struct {
	Progress    handlers.ProgressService
	FSM         state.StateMachine
	Translator  i18n.Translator
	Idempotency idempotency.Manager
	RateLimit   *middleware.RateLimitMiddleware
	Errors      *errors.Handler
}

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot *telebot.Bot
	log     *slog.Logger
	router  *Router
	t       i18n.Translator
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.Config, log *slog.Logger, deps Deps) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Bot.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", slog.Any("error", err))
		},
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Bot.WebhookListen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	if deps.Errors == nil {
		deps.Errors = errors.NewHandler(log, cfg.Sentry.Enabled)
	}

	b := &Bot{
		telebot: tb,
		log:     log,
		router:  newRouter(deps, log),
		t:       deps.Translator,
	}

	if deps.RateLimit != nil {
		b.telebot.Use(deps.RateLimit.Handle)
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)

	return b, nil
}

// newRouter wires commands, the reset button, onboarding callbacks and the state handlers for
// free text. Numeric text is handled in every state; the state only picks the guidance for
// text that is not a number.
func newRouter(deps Deps, log *slog.Logger) *Router {
	dispatcher := NewDispatcher(deps.FSM, log)
	router := NewRouter(dispatcher, log)

	router.Use(RecoveryMiddleware(log, deps.Errors))
	router.Use(LoggingMiddleware(log))
	router.Use(ErrorHandlingMiddleware(deps.Errors))
	router.Use(middleware.Idempotency(deps.Idempotency, log))
	router.Use(middleware.Metrics)

	h := handlers.NewProgress(deps.Progress, deps.Translator, log)

	router.RegisterCommand(CommandStart, h.Start)
	router.RegisterCommand(CommandStatus, h.Status)
	router.RegisterCommand(CommandReset, h.Reset)
	router.RegisterText(keyboard.ResetButtonText(deps.Translator), h.Reset)

	router.RegisterCallback(keyboard.CallbackStartToday, h.StartToday)
	router.RegisterCallback(keyboard.CallbackInputDays, h.InputDays)
	router.SetDefaultCallback(h.UnknownCallback)

	dispatcher.RegisterStateHandler(state.StateAwaitingStart, h.DayCount(false))
	dispatcher.RegisterStateHandler(state.StateAwaitingDayCount, h.DayCount(true))
	dispatcher.RegisterStateHandler(state.StateTracking, h.DayCount(false))
	router.SetDefault(h.DayCount(false))

	return router
}

// Start publishes the command list and runs the telegram bot event loop. It blocks until Stop.
func (b *Bot) Start() {
	if b.telebot == nil {
		return
	}

	if b.t != nil {
		commands := []telebot.Command{
			{Text: "start", Description: b.t.T("commands.start")},
			{Text: "status", Description: b.t.T("commands.status")},
			{Text: "reset", Description: b.t.T("commands.reset")},
		}
		if err := b.telebot.SetCommands(commands); err != nil {
			b.log.Warn("failed to publish bot commands", slog.Any("error", err))
		}
	}

	b.log.Info("telegram bot started", slog.String("username", b.telebot.Me.Username))
	b.telebot.Start()
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}
