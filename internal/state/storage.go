// Package state records the conversational expectation for each user.
package state

import "context"

// Storage defines the persistence contract for user conversation state.
type Storage interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state *UserState) error
	ClearState(ctx context.Context, userID int64) error
	// GetAllStates lists every stored state; used for metrics only.
	GetAllStates(ctx context.Context) ([]*UserState, error)
}
