package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

// Callback data is "<action>" or "<action>:<payload>".
const (
	callbackSeparator      = ":"
	CallbackDataLimitBytes = 64
)

// ErrCallbackTooLong is returned for data Telegram would reject.
var ErrCallbackTooLong = errors.New("callback data too long")

// EncodeCallback joins an action and an optional payload.
func EncodeCallback(action, payload string) (string, error) {
	data := action
	if payload != "" {
		data = action + callbackSeparator + payload
	}

	if len(data) > CallbackDataLimitBytes {
		return "", fmt.Errorf("%w: %q is %d bytes, limit %d", ErrCallbackTooLong, action, len(data), CallbackDataLimitBytes)
	}
	return data, nil
}

// CallbackAction returns the action part of callback data.
func CallbackAction(data string) string {
	action, _, _ := strings.Cut(strings.TrimSpace(data), callbackSeparator)
	return action
}
