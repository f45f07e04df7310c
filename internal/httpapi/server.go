// Package httpapi serves the operational HTTP surface: probes, metrics, the external batch
// trigger and diagnostics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/soberdays-bot/internal/advancement"
	"github.com/Proton-105/soberdays-bot/internal/idempotency"
	"github.com/Proton-105/soberdays-bot/internal/middleware"
	"github.com/Proton-105/soberdays-bot/pkg/logger"
)

// IdempotencyKeyHeader lets an external scheduler retry a trigger without running the batch twice.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyTTL = 24 * time.Hour

// Runner runs one advancement batch.
type Runner interface {
	Run(ctx context.Context) (advancement.Summary, error)
}

// Probes answers liveness and readiness.
type Probes interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Store is the part of the ledger the diagnostics endpoint exercises.
type Store interface {
	Ping(ctx context.Context) error
	FindMessageForDay(ctx context.Context, day int) (string, bool, error)
}

// Deps are the collaborators of the HTTP handlers. Nil members disable the matching endpoint.
type Deps struct {
	Runner      Runner
	Probes      Probes
	Store       Store
	Idempotency idempotency.Manager
	CronToken   string
	// Environment reports which secrets are configured. Values are never exposed.
	Environment map[string]bool
}

type server struct {
	deps Deps
	log  *slog.Logger
}

// NewHandler builds the routed, logged handler.
func NewHandler(deps Deps, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &server{deps: deps, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /cron/advance", s.handleAdvance)
	mux.HandleFunc("OPTIONS /cron/advance", handlePreflight)
	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)

	return logger.Middleware(middleware.New(log)(withCORS(mux)))
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+IdempotencyKeyHeader)
		next.ServeHTTP(w, r)
	})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Probes != nil {
		if err := s.deps.Probes.Liveness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Probes != nil {
		if err := s.deps.Probes.Readiness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type advanceResponse struct {
	Status         string `json:"status"`
	UsersProcessed int    `json:"usersProcessed"`
	MessagesSent   int    `json:"messagesSent"`
}

func (s *server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, statusResponse{Status: "error", Error: "unauthorized"})
		return
	}
	if s.deps.Runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Error: "advancement is not configured"})
		return
	}

	ctx := r.Context()
	run := func(ctx context.Context) (interface{}, error) {
		summary, err := s.deps.Runner.Run(ctx)
		if err != nil {
			return nil, err
		}
		return advanceResponse{
			Status:         "success",
			UsersProcessed: summary.UsersProcessed,
			MessagesSent:   summary.MessagesSent,
		}, nil
	}

	var (
		body interface{}
		err  error
	)
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" && s.deps.Idempotency != nil {
		var result *idempotency.Result
		result, err = s.deps.Idempotency.Execute(ctx, idempotency.GenerateKey("cron-advance", key), idempotencyTTL, run)
		if err == nil {
			body = result.Response
		}
	} else {
		body, err = run(ctx)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, body)
	case errors.Is(err, advancement.ErrBatchInProgress), errors.Is(err, idempotency.ErrRequestInProgress):
		writeJSON(w, http.StatusConflict, statusResponse{Status: "error", Error: err.Error()})
	default:
		s.log.ErrorContext(ctx, "advancement trigger failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Error: err.Error()})
	}
}

// authorized checks the bearer token when one is configured.
func (s *server) authorized(r *http.Request) bool {
	if s.deps.CronToken == "" {
		return true
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.deps.CronToken)) == 1
}

type diagnosticsResponse struct {
	Connection  string          `json:"connection"`
	MessageTest string          `json:"messageTest"`
	Details     diagnosticsInfo `json:"details"`
	Environment map[string]bool `json:"environment"`
}

type diagnosticsInfo struct {
	Message string `json:"message"`
}

const (
	diagSuccess = "✅ Success"
	diagFailed  = "❌ Failed"
)

// handleDiagnostics checks the ledger connection and the day-1 message lookup. It never writes.
func (s *server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Error: "ledger is not configured"})
		return
	}

	ctx := r.Context()
	resp := diagnosticsResponse{
		Connection:  diagSuccess,
		MessageTest: diagFailed,
		Details:     diagnosticsInfo{Message: "Not found"},
		Environment: s.deps.Environment,
	}
	if resp.Environment == nil {
		resp.Environment = map[string]bool{}
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		resp.Connection = diagFailed
		s.log.WarnContext(ctx, "diagnostics ping failed", slog.Any("error", err))
	}

	body, found, err := s.deps.Store.FindMessageForDay(ctx, 1)
	switch {
	case err != nil:
		s.log.WarnContext(ctx, "diagnostics message lookup failed", slog.Any("error", err))
	case found:
		resp.MessageTest = diagSuccess
		resp.Details.Message = body
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
