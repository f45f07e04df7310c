package advancement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/milestone"
	"github.com/Proton-105/soberdays-bot/internal/testutil"
)

var start = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu     sync.Mutex
	fail   map[int64]bool
	panics map[int64]bool
	sent   map[int64][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[int64]bool{}, panics: map[int64]bool{}, sent: map[int64][]string{}}
}

func (f *fakeSender) SendDirect(_ context.Context, externalID int64, text string) bool {
	if f.panics[externalID] {
		panic("transport exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[externalID] {
		return false
	}
	f.sent[externalID] = append(f.sent[externalID], text)
	return true
}

func newEngine(l *testutil.MemoryLedger, sender Sender, opts ...Option) *Engine {
	log := testutil.DiscardLogger()
	return NewEngine(l, milestone.NewLookup(l, log), sender, log, opts...)
}

func TestRun_AllDelivered(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(1, start, 5)
	l.AddUser(2, start, 5)
	l.AddMessage(5, "five")
	sender := newFakeSender()

	summary, err := newEngine(l, sender).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{UsersProcessed: 2, MessagesSent: 2, Advanced: 2}, summary)
	for _, id := range []int64{1, 2} {
		u, _ := l.User(id)
		assert.Equal(t, 6, u.DayCount)
		assert.Equal(t, start, u.StartDate, "start date must not change")
		require.Len(t, sender.sent[id], 1)
		assert.Contains(t, sender.sent[id][0], "five")
	}
}

func TestRun_DeliveryFailureHoldsCounter(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(1, start, 5)
	l.AddUser(2, start, 5)
	l.AddMessage(5, "five")
	sender := newFakeSender()
	sender.fail[2] = true

	summary, err := newEngine(l, sender).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.UsersProcessed)
	assert.Equal(t, 1, summary.MessagesSent)
	assert.Equal(t, 1, summary.Failed)

	u1, _ := l.User(1)
	u2, _ := l.User(2)
	assert.Equal(t, 6, u1.DayCount)
	assert.Equal(t, 5, u2.DayCount)
}

func TestRun_SkipForwardWithoutMilestone(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(1, start, 4)
	sender := newFakeSender()

	summary, err := newEngine(l, sender).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{UsersProcessed: 1, Advanced: 1}, summary)
	u, _ := l.User(1)
	assert.Equal(t, 5, u.DayCount)
	assert.Empty(t, sender.sent[1])
}

func TestRun_FetchFailureIsBatchError(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.Err["ListAllUsers"] = errors.New("auth failed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newEngine(l, newFakeSender()).Run(ctx)
	assert.Error(t, err)
}

func TestRun_PerUserFailuresDoNotAbort(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(1, start, 2)
	l.AddUser(2, start, 2)
	l.AddUser(3, start, 2)
	l.AddMessage(2, "two")
	sender := newFakeSender()
	sender.panics[2] = true

	summary, err := newEngine(l, sender, WithConcurrency(1)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.UsersProcessed)
	assert.Equal(t, 2, summary.MessagesSent)
	assert.Equal(t, 1, summary.Failed)
	u2, _ := l.User(2)
	assert.Equal(t, 2, u2.DayCount)
}

func TestRun_EmptyLedger(t *testing.T) {
	summary, err := newEngine(testutil.NewMemoryLedger(), newFakeSender()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

func TestRun_UsesFormatter(t *testing.T) {
	m, err := i18n.Load("ru")
	require.NoError(t, err)

	l := testutil.NewMemoryLedger()
	l.AddUser(1, start, 7)
	l.AddMessage(7, "Неделя!")
	sender := newFakeSender()

	_, err = newEngine(l, sender, WithFormatter(DailyFormatter(m.Default()))).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sender.sent[1], 1)
	assert.Contains(t, sender.sent[1][0], "День 7 без алкоголя")
	assert.Contains(t, sender.sent[1][0], "Неделя!")
}

func TestRun_ConcurrentRunsCannotDoubleIncrement(t *testing.T) {
	l := testutil.NewMemoryLedger()
	for id := int64(1); id <= 20; id++ {
		l.AddUser(id, start, 3)
	}
	sender := newFakeSender()
	client, _ := testutil.NewRedis(t)
	lock := NewRedisLock(client, time.Minute, testutil.DiscardLogger())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = newEngine(l, sender, WithLocker(lock)).Run(context.Background())
		}(i)
	}
	wg.Wait()

	for id := int64(1); id <= 20; id++ {
		u, _ := l.User(id)
		assert.LessOrEqual(t, u.DayCount, 5)
		assert.GreaterOrEqual(t, u.DayCount, 4)
	}
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrBatchInProgress)
		}
	}
}

func TestRun_StaleUpdateIsSkipped(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddUser(1, start, 3)

	e := newEngine(l, newFakeSender())
	users, err := l.ListAllUsers(context.Background())
	require.NoError(t, err)

	// Another run advanced the user after this engine read it.
	_, err = l.SetUserDayCount(context.Background(), users[0].ID, 3, 4)
	require.NoError(t, err)

	res := e.advanceUser(context.Background(), users[0])
	assert.False(t, res.advanced)
	assert.False(t, res.failed)

	u, _ := l.User(1)
	assert.Equal(t, 4, u.DayCount)
}
