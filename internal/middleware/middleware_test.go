package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/i18n"
	"github.com/Proton-105/soberdays-bot/internal/idempotency"
	"github.com/Proton-105/soberdays-bot/internal/ratelimit"
	"github.com/Proton-105/soberdays-bot/internal/testutil"
	"github.com/Proton-105/soberdays-bot/pkg/config"
	"github.com/Proton-105/soberdays-bot/pkg/logger"
)

func TestIdempotency_SkipsRedeliveredUpdate(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)

	calls := 0
	h := Idempotency(manager, log)(func(telebot.Context) error {
		calls++
		return nil
	})

	c := testutil.NewTextContext(42, "5")
	require.NoError(t, h(c))
	require.NoError(t, h(c))
	assert.Equal(t, 1, calls)

	other := testutil.NewTextContext(42, "6")
	other.Msg.ID = 2
	require.NoError(t, h(other))
	assert.Equal(t, 2, calls)
}

func TestIdempotency_FailedHandlerCanRerun(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)

	boom := errors.New("boom")
	calls := 0
	h := Idempotency(manager, log)(func(telebot.Context) error {
		calls++
		return boom
	})

	c := testutil.NewCallbackContext(42, "start_today")
	assert.ErrorIs(t, h(c), boom)
	assert.ErrorIs(t, h(c), boom)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_KeysOnUpdateID(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)

	calls := 0
	h := Idempotency(manager, log)(func(telebot.Context) error {
		calls++
		return nil
	})

	first := testutil.NewTextContext(42, "5")
	first.UpdateID = 1001
	second := testutil.NewTextContext(42, "5")
	second.UpdateID = 1002

	require.NoError(t, h(first))
	require.NoError(t, h(first))
	require.NoError(t, h(second))
	assert.Equal(t, 2, calls)
}

func TestIdempotency_NilManagerPassesThrough(t *testing.T) {
	called := false
	h := Idempotency(nil, nil)(func(telebot.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(testutil.NewTextContext(1, "hi")))
	assert.True(t, called)
}

func TestCommandLabel(t *testing.T) {
	tests := []struct {
		name string
		ctx  telebot.Context
		want string
	}{
		{name: "command", ctx: testutil.NewTextContext(1, "/Start@SoberBot payload"), want: "/start"},
		{name: "free text", ctx: testutil.NewTextContext(1, "my secret 12"), want: "text"},
		{name: "callback", ctx: testutil.NewCallbackContext(1, "input_days"), want: "callback:input_days"},
		{name: "callback with payload", ctx: testutil.NewCallbackContext(1, "input_days:3"), want: "callback:input_days"},
		{name: "empty", ctx: testutil.NewTextContext(1, ""), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commandLabel(tt.ctx))
		})
	}
}

type stubLimiter struct {
	result *ratelimit.Result
	err    error
	keys   []string
}

func (s *stubLimiter) Check(_ context.Context, key string, _ int, _ time.Duration) (*ratelimit.Result, error) {
	s.keys = append(s.keys, key)
	return s.result, s.err
}

func newRules(whitelist ...int64) *ratelimit.Rules {
	return ratelimit.NewRules(config.RateLimitConfig{
		Enabled:   true,
		PerUser:   config.RateLimitRule{Limit: 5, Window: "1m"},
		Whitelist: whitelist,
	})
}

func TestRateLimit_BlocksWithTranslatedMessage(t *testing.T) {
	catalog, err := i18n.Load("en")
	require.NoError(t, err)
	tr := catalog.Default()

	limiter := &stubLimiter{result: &ratelimit.Result{Allowed: false, ResetAt: time.Now().Add(10 * time.Second)}}
	mw := NewRateLimitMiddleware(limiter, newRules(), tr, testutil.DiscardLogger())

	called := false
	h := mw.Handle(func(telebot.Context) error {
		called = true
		return nil
	})

	c := testutil.NewTextContext(42, "5")
	require.NoError(t, h(c))
	assert.False(t, called)
	assert.Equal(t, []string{tr.T("errors.rate_limited")}, c.SentTexts())
	assert.Equal(t, []string{"user:42"}, limiter.keys)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	mw := NewRateLimitMiddleware(limiter, newRules(), nil, testutil.DiscardLogger())

	called := false
	h := mw.Handle(func(telebot.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(testutil.NewTextContext(42, "5")))
	assert.True(t, called)
}

func TestRateLimit_WhitelistSkipsLimiter(t *testing.T) {
	limiter := &stubLimiter{result: &ratelimit.Result{Allowed: false}}
	mw := NewRateLimitMiddleware(limiter, newRules(42), nil, testutil.DiscardLogger())

	called := false
	h := mw.Handle(func(telebot.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(testutil.NewTextContext(42, "5")))
	assert.True(t, called)
	assert.Empty(t, limiter.keys)
}

func TestHTTPLogging_PassesResponseThrough(t *testing.T) {
	h := logger.Middleware(New(testutil.DiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
	assert.Equal(t, "short and stout", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(logger.CorrelationIDHeader))
}
