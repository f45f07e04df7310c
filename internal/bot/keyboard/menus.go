package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/i18n"
)

// Callback identifiers of the start menu.
const (
	CallbackStartToday = "start_today"
	CallbackInputDays  = "input_days"
)

func lookup(t i18n.Translator, key string) string {
	if t == nil {
		return key
	}
	return t.T(key)
}

// StartMenu builds the onboarding choice shown by /start and after a reset.
func StartMenu(t i18n.Translator) (*telebot.ReplyMarkup, error) {
	return NewInlineKeyboard().
		AddRow(InlineButton{Text: lookup(t, "buttons.start_today"), Unique: CallbackStartToday}).
		AddRow(InlineButton{Text: lookup(t, "buttons.input_days"), Unique: CallbackInputDays}).
		Build()
}

// ResetButtonText is the label of the persistent reset button.
func ResetButtonText(t i18n.Translator) string {
	return lookup(t, "buttons.reset")
}

// MainMenu builds the persistent reply keyboard shown while a timeline is tracked.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	markup.Reply(markup.Row(markup.Text(ResetButtonText(t))))
	return markup
}
