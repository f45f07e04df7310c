package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdvancementTask(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	task, err := NewAdvancementTask("cli", at)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeAdvancement, task.Type())

	payload, err := DecodeAdvancementPayload(task)
	require.NoError(t, err)
	assert.Equal(t, "cli", payload.TriggeredBy)
	assert.True(t, payload.RequestedAt.Equal(at))
	assert.Equal(t, time.UTC, payload.RequestedAt.Location())
}

func TestDecodeAdvancementPayload_Empty(t *testing.T) {
	payload, err := DecodeAdvancementPayload(asynq.NewTask(TaskTypeAdvancement, nil))
	require.NoError(t, err)
	assert.Empty(t, payload.TriggeredBy)
}

func TestEnqueueError(t *testing.T) {
	assert.ErrorIs(t, enqueueError(asynq.ErrDuplicateTask), ErrAlreadyQueued)
	assert.ErrorIs(t, enqueueError(fmt.Errorf("wrapped: %w", asynq.ErrTaskIDConflict)), ErrAlreadyQueued)
	assert.Equal(t, assert.AnError, enqueueError(assert.AnError))
}
