package idempotency

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"

	keyPrefix = "soberdays:idem:"
)

// Record is the stored state of one idempotency key.
type Record struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Store persists records. Claim writes a processing record only when none exists, so checking
// and claiming a key is one step.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore keeps each record as a single JSON string so the record and its TTL are written
// in one command.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(client *redis.Client, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log.With(slog.String("component", "idempotency"))}
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(Record{Status: StatusProcessing})
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, recordKey(key), raw, ttl).Result()
	if err != nil {
		s.fail("claim", key, err)
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.fail("get", key, err)
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.fail("decode", key, err)
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	raw, err := json.Marshal(record)
	if err != nil {
		s.fail("encode", key, err)
		return err
	}
	if err := s.client.Set(ctx, recordKey(key), raw, ttl).Err(); err != nil {
		s.fail("set", key, err)
		return err
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, recordKey(key)).Err(); err != nil {
		s.fail("delete", key, err)
		return err
	}
	return nil
}

func (s *RedisStore) fail(op, key string, err error) {
	s.log.Error("idempotency store failed", slog.String("op", op), slog.String("key", key), slog.Any("error", err))
}

func recordKey(key string) string { return keyPrefix + key }
