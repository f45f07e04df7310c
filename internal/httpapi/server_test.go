package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/soberdays-bot/internal/advancement"
	"github.com/Proton-105/soberdays-bot/internal/idempotency"
	"github.com/Proton-105/soberdays-bot/internal/milestone"
	"github.com/Proton-105/soberdays-bot/internal/testutil"
)

type fakeRunner struct {
	mu      sync.Mutex
	summary advancement.Summary
	err     error
	calls   int
}

func (f *fakeRunner) Run(context.Context) (advancement.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.summary, f.err
}

type fakeProbes struct {
	ready error
}

func (f fakeProbes) Liveness(context.Context) error  { return nil }
func (f fakeProbes) Readiness(context.Context) error { return f.ready }

func serve(t *testing.T, h http.Handler, method, path string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func TestAdvance_Success(t *testing.T) {
	runner := &fakeRunner{summary: advancement.Summary{UsersProcessed: 3, MessagesSent: 2, Advanced: 3}}
	h := NewHandler(Deps{Runner: runner}, testutil.DiscardLogger())

	rec, body := serve(t, h, http.MethodPost, "/cron/advance", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"status":         "success",
		"usersProcessed": float64(3),
		"messagesSent":   float64(2),
	}, body)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdvance_BatchErrorIs500(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ledger unreachable")}
	h := NewHandler(Deps{Runner: runner}, testutil.DiscardLogger())

	rec, body := serve(t, h, http.MethodPost, "/cron/advance", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "ledger unreachable", body["error"])
}

func TestAdvance_ConcurrentRunIsConflict(t *testing.T) {
	h := NewHandler(Deps{Runner: &fakeRunner{err: advancement.ErrBatchInProgress}}, testutil.DiscardLogger())

	rec, _ := serve(t, h, http.MethodPost, "/cron/advance", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdvance_RequiresBearerToken(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(Deps{Runner: runner, CronToken: "s3cret"}, testutil.DiscardLogger())

	rec, _ := serve(t, h, http.MethodPost, "/cron/advance", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, h, http.MethodPost, "/cron/advance", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)

	rec, _ = serve(t, h, http.MethodPost, "/cron/advance", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)
}

func TestAdvance_MethodNotAllowed(t *testing.T) {
	h := NewHandler(Deps{Runner: &fakeRunner{}}, testutil.DiscardLogger())

	rec, _ := serve(t, h, http.MethodGet, "/cron/advance", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdvance_IdempotencyKeyReplays(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)

	runner := &fakeRunner{summary: advancement.Summary{UsersProcessed: 5, MessagesSent: 1}}
	h := NewHandler(Deps{Runner: runner, Idempotency: manager}, log)

	headers := map[string]string{IdempotencyKeyHeader: "2026-03-10"}
	first, firstBody := serve(t, h, http.MethodPost, "/cron/advance", headers)
	second, secondBody := serve(t, h, http.MethodPost, "/cron/advance", headers)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, firstBody, secondBody)
	assert.Equal(t, 1, runner.calls)
}

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (c *countingSender) SendDirect(context.Context, int64, string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return true
}

func TestAdvance_RepeatedKeyAdvancesUsersOnce(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	log := testutil.DiscardLogger()
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)

	l := testutil.NewMemoryLedger()
	l.AddUser(7, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), 5)
	l.AddMessage(5, "five")
	l.AddMessage(6, "six")
	sender := &countingSender{}
	engine := advancement.NewEngine(l, milestone.NewLookup(l, log), sender, log)

	h := NewHandler(Deps{Runner: engine, Idempotency: manager}, log)
	headers := map[string]string{IdempotencyKeyHeader: "2024-03-05"}

	first, _ := serve(t, h, http.MethodPost, "/cron/advance", headers)
	second, body := serve(t, h, http.MethodPost, "/cron/advance", headers)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, float64(1), body["usersProcessed"])

	u, ok := l.User(7)
	require.True(t, ok)
	assert.Equal(t, 6, u.DayCount)
	assert.Equal(t, 1, sender.sent)
}

func TestProbes(t *testing.T) {
	h := NewHandler(Deps{Probes: fakeProbes{}}, testutil.DiscardLogger())
	rec, _ := serve(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHandler(Deps{Probes: fakeProbes{ready: errors.New("unhealthy components: redis")}}, testutil.DiscardLogger())
	rec, body := serve(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy components: redis", body["error"])

	rec, _ = serve(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(Deps{}, testutil.DiscardLogger())

	rec, _ := serve(t, h, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDiagnostics(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.AddMessage(1, "First day. You did it.")
	h := NewHandler(Deps{Store: l, Environment: map[string]bool{"hasBotToken": true}}, testutil.DiscardLogger())

	rec, body := serve(t, h, http.MethodGet, "/diagnostics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, diagSuccess, body["connection"])
	assert.Equal(t, diagSuccess, body["messageTest"])
	assert.Equal(t, "First day. You did it.", body["details"].(map[string]interface{})["message"])
	assert.Equal(t, map[string]interface{}{"hasBotToken": true}, body["environment"])
	assert.Zero(t, l.Writes)
}

func TestDiagnostics_ReportsFailures(t *testing.T) {
	l := testutil.NewMemoryLedger()
	l.Err["Ping"] = errors.New("connection refused")
	l.Err["FindMessageForDay"] = errors.New("connection refused")
	h := NewHandler(Deps{Store: l}, testutil.DiscardLogger())

	rec, body := serve(t, h, http.MethodGet, "/diagnostics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, diagFailed, body["connection"])
	assert.Equal(t, diagFailed, body["messageTest"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
