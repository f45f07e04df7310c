package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "conversation:state:"
	scanBatch      = 100

	// DefaultStateTTL bounds how long an abandoned conversation keeps its expectation.
	DefaultStateTTL = time.Hour
)

// RedisStorage keeps one JSON document per user. Every write refreshes the TTL.
type RedisStorage struct {
	client *redis.Client
	log    *slog.Logger
	ttl    time.Duration
}

// NewRedisStorage returns a Redis Storage. A non-positive ttl falls back to DefaultStateTTL.
func NewRedisStorage(client *redis.Client, log *slog.Logger, ttl time.Duration) Storage {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStorage{client: client, log: log.With(slog.String("component", "state")), ttl: ttl}
}

func (s *RedisStorage) GetState(ctx context.Context, userID int64) (*UserState, error) {
	raw, err := s.client.Get(ctx, stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		s.log.Error("state read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	st, err := decodeState(raw)
	if err != nil {
		s.log.Error("state decode failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, err
	}
	return st, nil
}

func (s *RedisStorage) SetState(ctx context.Context, userID int64, st *UserState) error {
	st.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, stateKey(userID), raw, s.ttl).Err(); err != nil {
		s.log.Error("state write failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *RedisStorage) ClearState(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, stateKey(userID)).Err(); err != nil {
		s.log.Error("state clear failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}
	return nil
}

// GetAllStates walks the key space with SCAN and loads each page with one MGET. Keys that
// expire between the two calls and undecodable documents are skipped.
func (s *RedisStorage) GetAllStates(ctx context.Context) ([]*UserState, error) {
	var out []*UserState

	iter := s.client.Scan(ctx, 0, stateKeyPrefix+"*", scanBatch).Iterator()
	page := make([]string, 0, scanBatch)

	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		values, err := s.client.MGet(ctx, page...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			st, err := decodeState([]byte(str))
			if err != nil {
				s.log.Warn("skipping undecodable state", slog.String("key", page[i]), slog.Any("error", err))
				continue
			}
			out = append(out, st)
		}
		page = page[:0]
		return nil
	}

	for iter.Next(ctx) {
		page = append(page, iter.Val())
		if len(page) == scanBatch {
			if err := flush(); err != nil {
				s.log.Error("state page load failed", slog.Any("error", err))
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		s.log.Error("state scan failed", slog.Any("error", err))
		return nil, err
	}
	if err := flush(); err != nil {
		s.log.Error("state page load failed", slog.Any("error", err))
		return nil, err
	}

	return out, nil
}

func decodeState(raw []byte) (*UserState, error) {
	var st UserState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func stateKey(userID int64) string {
	return stateKeyPrefix + strconv.FormatInt(userID, 10)
}
