package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/soberdays-bot/internal/domain"
	apperrors "github.com/Proton-105/soberdays-bot/internal/errors"
	"github.com/Proton-105/soberdays-bot/internal/milestone"
	"github.com/Proton-105/soberdays-bot/internal/state"
	"github.com/Proton-105/soberdays-bot/internal/testutil"
)

const userID = int64(1001)

func newService(t *testing.T, l *testutil.MemoryLedger) (*Service, state.StateMachine) {
	t.Helper()

	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	fsm := state.NewStateMachine(state.NewRedisStorage(client, log, time.Hour), log, client)

	svc := NewService(l, milestone.NewLookup(l, log), log,
		WithStateMachine(fsm),
		WithClock(func() time.Time { return today.Add(15 * time.Hour) }),
	)
	return svc, fsm
}

func TestBeginToday_AlwaysDayOne(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(userID, today.AddDate(0, 0, -40), 41)
	svc, _ := newService(t, l)

	user, err := svc.BeginToday(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, user.DayCount)
	assert.Equal(t, today, user.StartDate)
	assert.Equal(t, domain.DefaultTimezone, user.Timezone)
}

func TestBeginToday_Idempotent(t *testing.T) {
	l := testutil.NewMemoryLedger()
	svc, fsm := newService(t, l)
	ctx := context.Background()

	_, err := svc.BeginToday(ctx, userID)
	require.NoError(t, err)
	once, _ := l.User(userID)

	_, err = svc.BeginToday(ctx, userID)
	require.NoError(t, err)
	twice, _ := l.User(userID)

	assert.Equal(t, once.ID, twice.ID)
	assert.Equal(t, once.DayCount, twice.DayCount)
	assert.Equal(t, once.StartDate, twice.StartDate)
	assert.Equal(t, once.Timezone, twice.Timezone)
	assert.Equal(t, state.StateTracking, fsm.Current(ctx, userID))
}

func TestRequestManualEntry_OnlyRecordsState(t *testing.T) {
	l := testutil.NewMemoryLedger()
	svc, _ := newService(t, l)
	ctx := context.Background()

	svc.RequestManualEntry(ctx, userID)

	assert.Equal(t, state.StateAwaitingDayCount, svc.CurrentState(ctx, userID))
	assert.Zero(t, l.Writes)
}

func TestSubmitDayCount_OverwritesAndReturnsMilestone(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(userID, today, 1)
	l.AddMessage(30, "Месяц без алкоголя")
	l.AddMessage(30, "duplicate")
	svc, _ := newService(t, l)

	sub, err := svc.SubmitDayCount(context.Background(), userID, "30")
	require.NoError(t, err)
	assert.Equal(t, 30, sub.User.DayCount)
	assert.Equal(t, today.AddDate(0, 0, -29), sub.User.StartDate)
	assert.True(t, sub.HasMilestone)
	assert.Equal(t, "Месяц без алкоголя", sub.Milestone)
}

func TestSubmitDayCount_AcceptedInAnyState(t *testing.T) {
	l := testutil.NewMemoryLedger()
	svc, _ := newService(t, l)
	ctx := context.Background()

	assert.Equal(t, state.StateAwaitingStart, svc.CurrentState(ctx, userID))

	sub, err := svc.SubmitDayCount(ctx, userID, "12")
	require.NoError(t, err)
	assert.False(t, sub.HasMilestone)
	assert.Equal(t, state.StateTracking, svc.CurrentState(ctx, userID))
}

func TestSubmitDayCount_ValidationDoesNotMutate(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(userID, today.AddDate(0, 0, -4), 5)
	svc, _ := newService(t, l)

	for _, input := range []string{"0", "3651", "abc", "-1", ""} {
		_, err := svc.SubmitDayCount(context.Background(), userID, input)
		require.Error(t, err, input)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.CodeValidation, appErr.Code)
	}

	user, _ := l.User(userID)
	assert.Equal(t, 5, user.DayCount)
	assert.Zero(t, l.Writes)
}

func TestSubmitDayCount_MilestoneFailureIsNotAnError(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.Err["FindMessageForDay"] = errors.New("timeout")
	svc, _ := newService(t, l)

	sub, err := svc.SubmitDayCount(context.Background(), userID, "7")
	require.NoError(t, err)
	assert.False(t, sub.HasMilestone)
	assert.Equal(t, 7, sub.User.DayCount)
}

func TestSubmitDayCount_BackingStoreFailure(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.Err["UpsertUser"] = errors.New("connection refused")
	svc, _ := newService(t, l)

	_, err := svc.SubmitDayCount(context.Background(), userID, "7")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeBackingStore, appErr.Code)
	assert.Equal(t, apperrors.GenericUserMessage, appErr.UserMessage)
}

func TestReset(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(userID, today, 3)
	svc, fsm := newService(t, l)
	ctx := context.Background()
	require.NoError(t, fsm.TransitionTo(ctx, userID, state.StateTracking))

	outcome, err := svc.Reset(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, ResetDone, outcome)
	_, exists := l.User(userID)
	assert.False(t, exists)
	assert.Equal(t, state.StateAwaitingStart, svc.CurrentState(ctx, userID))
	_, err = fsm.GetState(ctx, userID)
	assert.ErrorIs(t, err, state.ErrStateNotFound)

	outcome, err = svc.Reset(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, ResetNothing, outcome)
}

func TestStatus(t *testing.T) {
	l := testutil.NewMemoryLedger()
	svc, _ := newService(t, l)
	ctx := context.Background()

	_, found, err := svc.Status(ctx, userID)
	require.NoError(t, err)
	assert.False(t, found)

	l.AddUser(userID, today.AddDate(0, 0, -9), 10)
	user, found, err := svc.Status(ctx, userID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 10, user.DayCount)
}

func TestService_WorksWithoutStateMachine(t *testing.T) {
	l := testutil.NewMemoryLedger()
	svc := NewService(l, nil, testutil.DiscardLogger())

	_, err := svc.SubmitDayCount(context.Background(), userID, "3")
	require.NoError(t, err)
	assert.Equal(t, state.StateAwaitingStart, svc.CurrentState(context.Background(), userID))
}
