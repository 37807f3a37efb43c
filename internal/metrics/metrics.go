package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_actions_enqueued_total",
			Help: "Total number of actions captured into the offline queue.",
		},
		[]string{"method"},
	)

	ReplayAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_replay_attempts_total",
			Help: "Total number of replayed actions by outcome.",
		},
		[]string{"outcome"}, // delivered, retained, dead_lettered
	)

	ReplayFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_replay_failures_total",
			Help: "Total number of failed replay attempts by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	ReplayPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_replay_passes_total",
			Help: "Total number of replay passes by trigger.",
		},
		[]string{"trigger"},
	)

	ReplayPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsync_replay_pass_duration_seconds",
			Help:    "Wall time of a full replay pass.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_depth",
			Help: "Number of actions waiting in the offline queue.",
		},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_dead_letters_total",
			Help: "Total number of actions dropped by the retry policy.",
		},
		[]string{"reason"},
	)

	ConnectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_connectivity_online",
			Help: "1 when the device is considered online, 0 otherwise.",
		},
	)

	ConnectivityTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_connectivity_transitions_total",
			Help: "Total number of connectivity transitions by new state.",
		},
		[]string{"state"}, // online, offline
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ActionsEnqueuedTotal,
		ReplayAttemptsTotal,
		ReplayFailuresTotal,
		ReplayPassesTotal,
		ReplayPassDuration,
		QueueDepth,
		DeadLettersTotal,
		ConnectivityOnline,
		ConnectivityTransitionsTotal,
	)
}

func RecordEnqueued(method string) {
	ActionsEnqueuedTotal.WithLabelValues(method).Inc()
}

func RecordReplayOutcome(outcome string) {
	ReplayAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordReplayFailure(reason string) {
	ReplayFailuresTotal.WithLabelValues(reason).Inc()
}

func RecordPass(trigger string, d time.Duration) {
	ReplayPassesTotal.WithLabelValues(trigger).Inc()
	ReplayPassDuration.Observe(d.Seconds())
}

func RecordDeadLetter(reason string) {
	DeadLettersTotal.WithLabelValues(reason).Inc()
}

func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

func RecordConnectivity(online bool) {
	state := "offline"
	v := 0.0
	if online {
		state = "online"
		v = 1
	}
	ConnectivityOnline.Set(v)
	ConnectivityTransitionsTotal.WithLabelValues(state).Inc()
}
