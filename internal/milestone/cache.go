package milestone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// KV is the subset of the Redis client used by the cache.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type cachedMessage struct {
	Day  int    `json:"day"`
	Body string `json:"body"`
}

// Cache keeps found milestone bodies in Redis. Absent days are never cached.
type Cache struct {
	kv  KV
	ttl time.Duration
}

// NewCache constructs a milestone cache backed by kv.
func NewCache(kv KV, ttl time.Duration) *Cache {
	return &Cache{kv: kv, ttl: ttl}
}

// Get returns the cached body for day; found is false on a miss.
func (c *Cache) Get(ctx context.Context, day int) (string, bool, error) {
	if c == nil || c.kv == nil {
		return "", false, nil
	}

	raw, err := c.kv.Get(ctx, cacheKey(day))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get cached milestone: %w", err)
	}

	var msg cachedMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return "", false, fmt.Errorf("decode cached milestone: %w", err)
	}

	return msg.Body, true, nil
}

// Set stores body for day.
func (c *Cache) Set(ctx context.Context, day int, body string) error {
	if c == nil || c.kv == nil {
		return nil
	}

	payload, err := json.Marshal(cachedMessage{Day: day, Body: body})
	if err != nil {
		return fmt.Errorf("encode milestone for cache: %w", err)
	}

	if err := c.kv.Set(ctx, cacheKey(day), payload, c.ttl); err != nil {
		return fmt.Errorf("set cached milestone: %w", err)
	}

	return nil
}

func cacheKey(day int) string {
	return fmt.Sprintf("milestone:day:%d", day)
}
