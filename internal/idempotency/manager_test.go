package idempotency

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/soberdays-bot/internal/testutil"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()

	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	return NewManager(NewRedisStore(client, log), log)
}

func TestManager_ReplaysCompletedResult(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (interface{}, error) {
		calls++
		return map[string]int{"usersProcessed": 2}, nil
	}

	first, err := m.Execute(ctx, "k1", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(ctx, "k1", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, map[string]interface{}{"usersProcessed": float64(2)}, second.Response)
	assert.Equal(t, 1, calls)
}

func TestManager_FailedOperationCanBeRetried(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	calls := 0

	_, err := m.Execute(ctx, "k2", time.Hour, func(context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	res, err := m.Execute(ctx, "k2", time.Hour, func(context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, calls)
}

func TestManager_InProgress(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := m.Execute(ctx, "k3", time.Hour, func(context.Context) (interface{}, error) {
			close(started)
			<-finish
			return nil, nil
		})
		done <- err
	}()

	<-started
	_, err := m.Execute(ctx, "k3", time.Hour, func(context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)

	close(finish)
	require.NoError(t, <-done)
}

func TestGenerateKey_Deterministic(t *testing.T) {
	a := GenerateKey("update", int64(10), "start_today")
	b := GenerateKey("update", int64(10), "start_today")
	c := GenerateKey("update", int64(11), "start_today")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, GenerateKey("update", "10", "start_today"))
	assert.True(t, strings.HasPrefix(a, "update:"))
	assert.Len(t, a, len("update:")+32)
}

func TestRedisStore_ClaimIsExclusive(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	store := NewRedisStore(client, testutil.DiscardLogger())
	ctx := context.Background()

	ok, err := store.Claim(ctx, "k4", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "k4", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.Get(ctx, "k4")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusProcessing, rec.Status)
}

func TestManager_CompletedRecordSurvivesRepeatedCalls(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (interface{}, error) {
		calls++
		return "done", nil
	}

	for i := 0; i < 3; i++ {
		res, err := m.Execute(ctx, "k5", time.Hour, op)
		require.NoError(t, err)
		assert.Equal(t, i > 0, res.FromCache)
	}
	assert.Equal(t, 1, calls)
}
