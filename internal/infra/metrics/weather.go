package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(weatherLookupsTotal, weatherLookupSeconds) }

var (
	weatherLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_lookups_total",
			Help: "Weather lookups by result.",
		},
		[]string{"result"}, // 'ok', 'rejected', 'failed'
	)

	weatherLookupSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weather_lookup_seconds",
			Help:    "Weather provider round-trip latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

func ObserveWeatherLookup(result string, elapsed time.Duration) {
	weatherLookupsTotal.WithLabelValues(norm(result)).Inc()
	weatherLookupSeconds.Observe(elapsed.Seconds())
}
