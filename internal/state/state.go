package state

import "time"

// State represents what the bot expects next from a user in the conversation.
type State string

const (
	// StateAwaitingStart indicates that the user has no timeline and is shown the start menu.
	StateAwaitingStart State = "awaiting_start"
	// StateAwaitingDayCount indicates that the user asked to type the number of sober days.
	StateAwaitingDayCount State = "awaiting_day_count"
	// StateTracking indicates that the user has an active timeline.
	StateTracking State = "tracking"
)

// Known reports whether s is one of the conversation states.
func (s State) Known() bool {
	switch s {
	case StateAwaitingStart, StateAwaitingDayCount, StateTracking:
		return true
	default:
		return false
	}
}

// UserState captures the current conversation state for a Telegram user.
type UserState struct {
	UserID       int64     `json:"user_id"`
	CurrentState State     `json:"current_state"`
	UpdatedAt    time.Time `json:"updated_at"`
}
