package keyboard_test

import (
	"testing"

	"github.com/Proton-105/soberdays-bot/internal/bot/keyboard"
	"github.com/Proton-105/soberdays-bot/internal/testutil"
)

type mockTranslator struct {
	translations map[string]string
}

func (m *mockTranslator) T(key string) string {
	if v, ok := m.translations[key]; ok {
		return v
	}
	return key
}

func (m *mockTranslator) Tf(key string, _ ...any) string {
	return m.T(key)
}

func (m *mockTranslator) Lang() string {
	return "test"
}

func TestMainMenu(t *testing.T) {
	translator := &mockTranslator{translations: map[string]string{"buttons.reset": "Reset"}}

	markup := keyboard.MainMenu(translator)

	if !markup.ResizeKeyboard {
		t.Fatalf("expected ResizeKeyboard to be true")
	}
	testutil.AssertEqual(t, false, markup.OneTimeKeyboard)
	testutil.AssertEqual(t, 1, len(markup.ReplyKeyboard))
	testutil.AssertEqual(t, 1, len(markup.ReplyKeyboard[0]))
	testutil.AssertEqual(t, "Reset", markup.ReplyKeyboard[0][0].Text)
}

func TestStartMenu(t *testing.T) {
	translator := &mockTranslator{translations: map[string]string{
		"buttons.start_today": "Today",
		"buttons.input_days":  "Enter days",
	}}

	markup, err := keyboard.StartMenu(translator)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, 2, len(markup.InlineKeyboard))
	testutil.AssertEqual(t, "Today", markup.InlineKeyboard[0][0].Text)
	testutil.AssertEqual(t, keyboard.CallbackStartToday, markup.InlineKeyboard[0][0].Data)
	testutil.AssertEqual(t, keyboard.CallbackInputDays, markup.InlineKeyboard[1][0].Data)
}
