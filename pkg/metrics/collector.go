// Package metrics holds the Prometheus series exported on /metrics.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/soberdays-bot/internal/state"
)

const namespace = "soberdays"

// DefaultCollectInterval is how often StateCollector polls the conversation store.
const DefaultCollectInterval = 30 * time.Second

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Telegram updates handled, by command label and status.",
	}, []string{"command", "status"})
	updateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_duration_seconds",
		Help:      "Time spent handling one Telegram update.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Conversation state transitions.",
	}, []string{"from", "to"})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Application errors by code and severity.",
	}, []string{"code", "severity"})
	conversations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations",
		Help:      "Stored conversation states by state.",
	}, []string{"state"})
)

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func RecordCommand(command, status string, duration time.Duration) {
	command = label(command)
	updatesTotal.WithLabelValues(command, label(status)).Inc()
	updateDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(label(from), label(to)).Inc()
}

func RecordError(code, severity string) {
	errorsTotal.WithLabelValues(label(code), label(severity)).Inc()
}

// StateCollector refreshes the conversations gauge from the state store.
type StateCollector struct {
	fsm      state.StateMachine
	interval time.Duration
	log      *slog.Logger
}

func NewStateCollector(fsm state.StateMachine, interval time.Duration) *StateCollector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &StateCollector{fsm: fsm, interval: interval, log: slog.Default()}
}

// Run collects once immediately and then every interval until ctx is done.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.collect(ctx); err != nil && ctx.Err() == nil {
			c.log.Debug("state collection failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	states, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		return err
	}

	counts := map[string]int{
		string(state.StateAwaitingStart):    0,
		string(state.StateAwaitingDayCount): 0,
		string(state.StateTracking):         0,
	}
	for _, st := range states {
		if st == nil {
			continue
		}
		counts[label(string(st.CurrentState))]++
	}

	conversations.Reset()
	for name, n := range counts {
		conversations.WithLabelValues(name).Set(float64(n))
	}
	return nil
}
