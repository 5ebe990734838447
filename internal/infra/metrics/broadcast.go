package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(broadcastPassesTotal, broadcastMessagesTotal, broadcastSkippedTotal, broadcastPassSeconds)
}

var (
	broadcastPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_passes_total",
			Help: "Broadcast passes by outcome.",
		},
		[]string{"status"}, // 'completed', 'failed', 'skipped_locked'
	)

	broadcastMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_messages_total",
			Help: "Per-city broadcast messages by status.",
		},
		[]string{"status"}, // 'sent', 'failed'
	)

	broadcastSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_skipped_users_total",
			Help: "Subscribed users left out of a pass, by reason.",
		},
		[]string{"reason"}, // 'blocked', 'no_cities'
	)

	broadcastPassSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_pass_seconds",
			Help:    "Wall time of one broadcast pass.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)
)

func IncBroadcastPass(status string) {
	broadcastPassesTotal.WithLabelValues(norm(status)).Inc()
}

func IncBroadcastMessage(status string) {
	broadcastMessagesTotal.WithLabelValues(norm(status)).Inc()
}

func IncBroadcastSkipped(reason string, n int) {
	if n <= 0 {
		return
	}
	broadcastSkippedTotal.WithLabelValues(norm(reason)).Add(float64(n))
}

func ObserveBroadcastPass(elapsed time.Duration) {
	broadcastPassSeconds.Observe(elapsed.Seconds())
}
