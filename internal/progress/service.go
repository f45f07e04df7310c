// Package progress implements onboarding, manual day-count entry, status and reset of a
// user's sober-days timeline.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Proton-105/soberdays-bot/internal/domain"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/ledger"
	"github.com/Proton-105/soberdays-bot/internal/state"
)

// MilestoneLookup resolves the message authored for a day.
type MilestoneLookup interface {
	Lookup(ctx context.Context, day int) (string, bool, error)
}

// ResetOutcome tells whether a reset removed a timeline.
type ResetOutcome int

const (
	ResetDone ResetOutcome = iota + 1
	ResetNothing
)

// Submission is the result of an accepted manual day count.
type Submission struct {
	User         *domain.User
	Milestone    string
	HasMilestone bool
}

// Service drives the progress state machine. Every decision is read from the ledger; the
// conversation state only records what the bot expects next and never blocks an action.
type Service struct {
	ledger     ledger.Ledger
	milestones MilestoneLookup
	fsm        state.StateMachine
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides the source of "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStateMachine records conversation state transitions.
func WithStateMachine(fsm state.StateMachine) Option {
	return func(s *Service) {
		s.fsm = fsm
	}
}

func NewService(l ledger.Ledger, milestones MilestoneLookup, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		ledger:     l,
		milestones: milestones,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) today() time.Time {
	return domain.DateOnly(s.now().UTC())
}

// BeginToday starts (or restarts) the timeline at day 1 today.
func (s *Service) BeginToday(ctx context.Context, externalID int64) (*domain.User, error) {
	user, err := s.ledger.UpsertUser(ctx, externalID, s.today(), 1, domain.DefaultTimezone)
	if err != nil {
		return nil, apperrors.NewBackingStoreError("begin today", err)
	}

	s.log.Info("timeline started today", slog.Int64("external_id", externalID))
	s.transition(ctx, externalID, state.StateTracking)
	return user, nil
}

// RequestManualEntry records that the user is about to type a day count. No record changes.
func (s *Service) RequestManualEntry(ctx context.Context, externalID int64) {
	s.transition(ctx, externalID, state.StateAwaitingDayCount)
}

// SubmitDayCount validates text, overwrites the timeline and looks up the milestone for the
// new day count. A missing or failed milestone lookup is not an error.
func (s *Service) SubmitDayCount(ctx context.Context, externalID int64, text string) (*Submission, error) {
	resolution, err := Resolve(text, s.today())
	if err != nil {
		return nil, err
	}

	user, err := s.ledger.UpsertUser(ctx, externalID, resolution.StartDate, resolution.DayCount, domain.DefaultTimezone)
	if err != nil {
		return nil, apperrors.NewBackingStoreError("submit day count", err)
	}

	s.log.Info("day count recorded",
		slog.Int64("external_id", externalID),
		slog.Int("day_count", resolution.DayCount),
	)
	s.transition(ctx, externalID, state.StateTracking)

	submission := &Submission{User: user}
	if s.milestones == nil {
		return submission, nil
	}

	body, found, err := s.milestones.Lookup(ctx, resolution.DayCount)
	if err != nil {
		s.log.Warn("milestone lookup failed after submission",
			slog.Int64("external_id", externalID),
			slog.Int("day", resolution.DayCount),
			slog.Any("error", err),
		)
		return submission, nil
	}

	submission.Milestone = body
	submission.HasMilestone = found
	return submission, nil
}

// Reset deletes the timeline if one exists. An absent timeline yields ResetNothing.
func (s *Service) Reset(ctx context.Context, externalID int64) (ResetOutcome, error) {
	user, err := s.ledger.FindUserByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			s.clearState(ctx, externalID)
			return ResetNothing, nil
		}
		return 0, apperrors.NewBackingStoreError("reset lookup", err)
	}

	existed, err := s.ledger.DeleteUser(ctx, user.ID)
	if err != nil {
		return 0, apperrors.NewBackingStoreError("reset delete", err)
	}

	s.clearState(ctx, externalID)
	if !existed {
		return ResetNothing, nil
	}

	s.log.Info("timeline reset", slog.Int64("external_id", externalID))
	return ResetDone, nil
}

// Status returns the stored timeline; found is false when the user has none.
func (s *Service) Status(ctx context.Context, externalID int64) (*domain.User, bool, error) {
	user, err := s.ledger.FindUserByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewBackingStoreError("status", err)
	}

	return user, true, nil
}

// CurrentState returns what the bot expects next from the user.
func (s *Service) CurrentState(ctx context.Context, externalID int64) state.State {
	if s.fsm == nil {
		return state.StateAwaitingStart
	}

	return s.fsm.Current(ctx, externalID)
}

// clearState forgets the conversation, which reads back as awaiting start.
func (s *Service) clearState(ctx context.Context, externalID int64) {
	if s.fsm == nil {
		return
	}

	if err := s.fsm.ClearState(ctx, externalID); err != nil {
		s.log.Warn("conversation state not cleared",
			slog.Int64("external_id", externalID), slog.Any("error", err))
	}
}

func (s *Service) transition(ctx context.Context, externalID int64, to state.State) {
	if s.fsm == nil {
		return
	}

	if err := s.fsm.TransitionTo(ctx, externalID, to); err != nil {
		s.log.Warn("conversation state not recorded",
			slog.Int64("external_id", externalID),
			slog.String("to", string(to)),
			slog.Any("error", err),
		)
	}
}
