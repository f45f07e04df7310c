package state

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "conversation:lock:"
	lockTTL       = 5 * time.Second
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateNotFound     = errors.New("user state not found")
	// ErrStateLocked is returned when another update for the same user holds the lock.
	ErrStateLocked = errors.New("state is locked, try again later")
)

// unlockScript deletes the lock only while it still carries the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder installs an observer called after every successful TransitionTo.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		recorder = func(string, string) {}
	}
	transitionRecorder = recorder
}

// StateMachine is the per-user conversation state. It is advisory: the ledger is the source of
// truth for whether a user has a timeline.
type StateMachine interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	// Current returns the stored state, or StateAwaitingStart when none is stored or the store fails.
	Current(ctx context.Context, userID int64) State
	TransitionTo(ctx context.Context, userID int64, newState State) error
	// ClearState drops the stored state, which reads back as StateAwaitingStart.
	ClearState(ctx context.Context, userID int64) error
	GetAllStates(ctx context.Context) ([]*UserState, error)
}

type machine struct {
	storage Storage
	log     *slog.Logger
	locks   *redis.Client
}

// NewStateMachine builds a StateMachine over storage. Writes take a short per-user Redis lock;
// a nil client disables locking.
func NewStateMachine(storage Storage, log *slog.Logger, locks *redis.Client) StateMachine {
	if log == nil {
		log = slog.Default()
	}
	return &machine{storage: storage, log: log, locks: locks}
}

func (m *machine) GetState(ctx context.Context, userID int64) (*UserState, error) {
	return m.storage.GetState(ctx, userID)
}

func (m *machine) GetAllStates(ctx context.Context) ([]*UserState, error) {
	return m.storage.GetAllStates(ctx)
}

func (m *machine) Current(ctx context.Context, userID int64) State {
	st, err := m.storage.GetState(ctx, userID)
	switch {
	case errors.Is(err, ErrStateNotFound):
		return StateAwaitingStart
	case err != nil:
		m.log.Warn("conversation state unavailable, assuming awaiting start",
			slog.Int64("user_id", userID), slog.Any("error", err))
		return StateAwaitingStart
	case st == nil || !st.CurrentState.Known():
		return StateAwaitingStart
	}
	return st.CurrentState
}

// TransitionTo moves the user to next when IsTransitionAllowed permits it. A missing state
// counts as StateAwaitingStart.
func (m *machine) TransitionTo(ctx context.Context, userID int64, next State) error {
	return m.withLock(ctx, userID, func() error {
		from := StateAwaitingStart
		st, err := m.storage.GetState(ctx, userID)
		if err != nil && !errors.Is(err, ErrStateNotFound) {
			return err
		}
		if err == nil && st != nil {
			from = st.CurrentState
		}

		if !IsTransitionAllowed(from, next) {
			m.log.Warn("invalid state transition", slog.Int64("user_id", userID),
				slog.String("from", string(from)), slog.String("to", string(next)))
			return ErrInvalidTransition
		}
		if err := m.storage.SetState(ctx, userID, &UserState{UserID: userID, CurrentState: next}); err != nil {
			return err
		}
		transitionRecorder(string(from), string(next))
		return nil
	})
}

func (m *machine) ClearState(ctx context.Context, userID int64) error {
	return m.withLock(ctx, userID, func() error {
		return m.storage.ClearState(ctx, userID)
	})
}

// withLock runs fn while holding the user's lock. Contention fails fast with ErrStateLocked.
func (m *machine) withLock(ctx context.Context, userID int64, fn func() error) error {
	if m.locks == nil {
		return fn()
	}

	key := lockKeyPrefix + strconv.FormatInt(userID, 10)
	token := uuid.NewString()

	ok, err := m.locks.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		m.log.Error("state lock failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}
	if !ok {
		m.log.Warn("state lock held", slog.Int64("user_id", userID))
		return ErrStateLocked
	}
	defer func() {
		if err := unlockScript.Run(context.WithoutCancel(ctx), m.locks, []string{key}, token).Err(); err != nil {
			m.log.Error("state unlock failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}()

	return fn()
}
