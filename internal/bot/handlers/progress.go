package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/keyboard"
	"github.com/Proton-105/soberdays-bot/internal/domain"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/progress"
	"github.com/Proton-105/soberdays-bot/internal/state"
)

// ProgressService is the onboarding and tracking API used by the chat handlers.
type ProgressService interface {
	BeginToday(ctx context.Context, externalID int64) (*domain.User, error)
	RequestManualEntry(ctx context.Context, externalID int64)
	SubmitDayCount(ctx context.Context, externalID int64, text string) (*progress.Submission, error)
	Reset(ctx context.Context, externalID int64) (progress.ResetOutcome, error)
	Status(ctx context.Context, externalID int64) (*domain.User, bool, error)
	CurrentState(ctx context.Context, externalID int64) state.State
}

var _ ProgressService = (*progress.Service)(nil)

// Progress holds the chat handlers for the sober-days timeline.
type Progress struct {
	svc ProgressService
	t   i18n.Translator
	log *slog.Logger
}

func NewProgress(svc ProgressService, t i18n.Translator, log *slog.Logger) *Progress {
	if log == nil {
		log = slog.Default()
	}

	return &Progress{svc: svc, t: t, log: log}
}

// Start greets the user and offers the two onboarding options.
func (h *Progress) Start(c telebot.Context) error {
	menu, err := keyboard.StartMenu(h.t)
	if err != nil {
		return err
	}

	return c.Send(h.t.T("welcome"), menu)
}

// StartToday handles the "today is day one" button.
func (h *Progress) StartToday(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if _, err := h.svc.BeginToday(RequestContext(c), sender.ID); err != nil {
		_ = c.Respond()
		return err
	}

	_ = c.Respond()
	if err := h.editOrSend(c, h.t.T("begin.done")); err != nil {
		return err
	}

	return c.Send(h.t.T("begin.menu"), keyboard.MainMenu(h.t))
}

// InputDays handles the "enter number of days" button.
func (h *Progress) InputDays(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	h.svc.RequestManualEntry(RequestContext(c), sender.ID)

	_ = c.Respond()
	return h.editOrSend(c, h.t.T("manual.prompt"))
}

// UnknownCallback answers callback data no handler recognizes.
func (h *Progress) UnknownCallback(c telebot.Context) error {
	return c.Respond(&telebot.CallbackResponse{Text: h.t.T("callback.unknown")})
}

// DayCount returns the free-text handler. awaiting selects the guidance shown for
// non-numeric text when the user explicitly asked to type a number.
func (h *Progress) DayCount(awaiting bool) Handler {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		ctx := RequestContext(c)
		submission, err := h.svc.SubmitDayCount(ctx, sender.ID, c.Text())
		if err != nil {
			if prompt, ok := h.validationPrompt(err, awaiting); ok {
				return c.Send(prompt)
			}
			return apperrors.WithUserMessage(err, h.t.T("errors.save"))
		}

		days := submission.User.DayCount
		if err := c.Send(h.t.Tf("submit.saved", days)); err != nil {
			return err
		}

		if submission.HasMilestone {
			if err := c.Send(h.t.Tf("submit.milestone", days, submission.Milestone)); err != nil {
				h.log.Warn("failed to send milestone after submission",
					slog.Int64("user_id", sender.ID), slog.Any("error", err))
			}
		}

		return c.Send(h.t.T("submit.menu"), keyboard.MainMenu(h.t))
	}
}

// Reset deletes the timeline and shows the start menu again.
func (h *Progress) Reset(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	outcome, err := h.svc.Reset(RequestContext(c), sender.ID)
	if err != nil {
		return apperrors.WithUserMessage(err, h.t.T("errors.reset"))
	}

	text := h.t.T("reset.nothing")
	if outcome == progress.ResetDone {
		text = h.t.T("reset.done")
	}

	if err := c.Send(text, &telebot.ReplyMarkup{RemoveKeyboard: true}); err != nil {
		return err
	}

	return h.Start(c)
}

// Status reports the current day count and start date.
func (h *Progress) Status(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, found, err := h.svc.Status(RequestContext(c), sender.ID)
	if err != nil {
		return err
	}

	if !found {
		return c.Send(h.t.T("status.none"))
	}

	return c.Send(h.t.Tf("status.tracking", user.DayCount, user.StartDate.Format(time.DateOnly)), keyboard.MainMenu(h.t))
}

func (h *Progress) validationPrompt(err error, awaiting bool) (string, bool) {
	switch {
	case errors.Is(err, progress.ErrNonPositive):
		return h.t.T("validation.not_positive"), true
	case errors.Is(err, progress.ErrTooLarge):
		return h.t.T("validation.too_large"), true
	case errors.Is(err, progress.ErrNotANumber):
		if awaiting {
			return h.t.T("validation.not_number_awaiting"), true
		}
		return h.t.T("validation.not_number"), true
	default:
		return "", false
	}
}

func (h *Progress) editOrSend(c telebot.Context, text string) error {
	if c.Callback() != nil && c.Callback().Message != nil {
		err := c.Edit(text)
		if err == nil {
			return nil
		}
		h.log.Debug("edit failed, sending new message", slog.Any("error", err))
	}

	return c.Send(text)
}
