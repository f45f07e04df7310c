// Package ratelimit throttles updates per Telegram user with a sliding window kept in Redis.
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"
)

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot, never below one.
func (r *Result) RetryAfter(now time.Time) int {
	if r == nil || r.ResetAt.IsZero() {
		return 1
	}
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// UserKey scopes a limiter key to one Telegram user.
func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
