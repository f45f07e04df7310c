package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	errors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/pkg/metrics"
)

// directSender is the part of *telebot.Bot used for messages outside of an update.
type directSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Messenger delivers direct messages for the advancement engine.
type Messenger struct {
	api     directSender
	breaker *errors.CircuitBreaker
	log     *slog.Logger
}

func NewMessenger(api directSender, breaker *errors.CircuitBreaker, log *slog.Logger) *Messenger {
	if breaker == nil {
		breaker = errors.NewCircuitBreaker()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Messenger{api: api, breaker: breaker, log: log}
}

// NewOfflineSender builds a telebot client that only sends; it never polls and skips getMe.
func NewOfflineSender(token string) (*telebot.Bot, error) {
	tb, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot sender: %w", err)
	}
	return tb, nil
}

// SendDirect sends text to the user's private chat. It never returns an error: any failure,
// including an open circuit, is logged and reported as false.
func (m *Messenger) SendDirect(ctx context.Context, externalID int64, text string) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}

	var recipientErr error
	err := m.breaker.Call(func() error {
		_, err := m.api.Send(telebot.ChatID(externalID), text)
		if isRecipientError(err) {
			// One user blocking the bot says nothing about Telegram's health.
			recipientErr = err
			return nil
		}
		return err
	})
	if err == nil {
		err = recipientErr
	}
	if err != nil {
		derr := errors.NewDeliveryError(externalID, err)
		m.log.Warn("direct message not delivered",
			slog.Int64("external_id", externalID),
			slog.String("code", derr.Code),
			slog.String("breaker", m.breaker.State().String()),
			slog.Any("error", err),
		)
		metrics.RecordError(derr.Code, string(derr.Severity))
		return false
	}

	return true
}

func isRecipientError(err error) bool {
	return stderrors.Is(err, telebot.ErrBlockedByUser) ||
		stderrors.Is(err, telebot.ErrUserIsDeactivated) ||
		stderrors.Is(err, telebot.ErrChatNotFound)
}
