// Package jobs schedules and processes the daily advancement batch through asynq.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TaskTypeAdvancement = "advancement:run"

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// DefaultQueues weights the worker's queues.
var DefaultQueues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
}

const (
	// advancementUniqueFor keeps replicas sharing one Redis from enqueueing the same run twice.
	advancementUniqueFor = time.Hour
	advancementTimeout   = 30 * time.Minute
)

// AdvancementPayload identifies who asked for a run.
type AdvancementPayload struct {
	TriggeredBy string    `json:"triggered_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewAdvancementTask builds the batch task. Runs are never retried by the queue; the next
// scheduled run picks up whatever this one left behind.
func NewAdvancementTask(triggeredBy string, requestedAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(AdvancementPayload{TriggeredBy: triggeredBy, RequestedAt: requestedAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal advancement payload: %w", err)
	}

	return asynq.NewTask(TaskTypeAdvancement, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(advancementTimeout),
		asynq.Unique(advancementUniqueFor),
	), nil
}

// DecodeAdvancementPayload reads the payload of an advancement task. An empty payload is allowed.
func DecodeAdvancementPayload(t *asynq.Task) (AdvancementPayload, error) {
	var payload AdvancementPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode advancement payload: %w", err)
	}
	return payload, nil
}
