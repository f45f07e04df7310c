// Package idempotency runs an operation at most once per key and replays its stored result.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

const (
	defaultLockTTL      = 5 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

type Operation func(ctx context.Context) (interface{}, error)

// Result carries the operation response. Replayed responses are decoded from JSON, so
// structs come back as map[string]interface{}.
type Result struct {
	Response  interface{}
	FromCache bool
}

type Manager interface {
	Execute(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fn Operation,
	) (*Result, error)
}

type manager struct {
	store        Store
	log          *slog.Logger
	lockTTL      time.Duration
	pollInterval time.Duration
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store:        store,
		log:          log,
		lockTTL:      defaultLockTTL,
		pollInterval: defaultPollInterval,
	}
}

// Execute runs fn unless a record exists for key. A completed record is replayed, a processing one
// yields ErrRequestInProgress. A failed fn leaves no record, so the same key may be retried.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	for {
		claimed, err := m.store.Claim(ctx, key, m.lockTTL)
		if err != nil {
			return nil, err
		}
		if claimed {
			return m.run(ctx, key, ttl, fn)
		}

		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if record != nil {
			switch record.Status {
			case StatusProcessing:
				return nil, ErrRequestInProgress
			case StatusCompleted:
				return m.replay(key, record)
			}
		}

		// The record expired or was dropped between Claim and Get.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *manager) replay(key string, record *Record) (*Result, error) {
	var response interface{}
	if len(record.Response) > 0 {
		if err := json.Unmarshal(record.Response, &response); err != nil {
			return nil, err
		}
	}
	m.log.Debug("idempotent replay", slog.String("key", key))
	return &Result{Response: response, FromCache: true}, nil
}

func (m *manager) run(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	result, err := fn(ctx)
	if err != nil {
		if delErr := m.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			m.log.Warn("failed to drop idempotency record", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}

	responseBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(context.WithoutCancel(ctx), key, &Record{
		Status:   StatusCompleted,
		Response: responseBytes,
	}, ttl); err != nil {
		return nil, err
	}

	return &Result{
		Response:  result,
		FromCache: false,
	}, nil
}
