package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	advancementRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advancement_runs_total",
			Help:      "Total number of advancement batch runs by outcome",
		},
		[]string{"status"},
	)
	advancementRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advancement_run_duration_seconds",
			Help:      "Duration of advancement batch runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)
	advancementUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advancement_users_total",
			Help:      "Users handled by advancement runs by result",
		},
		[]string{"result"},
	)
	milestoneMessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "milestone_messages_sent_total",
			Help:      "Milestone messages confirmed delivered",
		},
	)
	deliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Direct messages that could not be delivered",
		},
	)
)

// RecordAdvancementRun tracks the outcome of one batch.
func RecordAdvancementRun(status string, duration time.Duration) {
	advancementRunsTotal.WithLabelValues(label(status)).Inc()
	advancementRunDuration.Observe(duration.Seconds())
}

// RecordAdvancementUser counts one user outcome: advanced, held, stale or failed.
func RecordAdvancementUser(result string) {
	advancementUsersTotal.WithLabelValues(label(result)).Inc()
}

// RecordMessageSent counts a delivered milestone message.
func RecordMessageSent() {
	milestoneMessagesSentTotal.Inc()
}

// RecordDeliveryFailure counts an undelivered direct message.
func RecordDeliveryFailure() {
	deliveryFailuresTotal.Inc()
}
