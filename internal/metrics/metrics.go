package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lobby",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	sequences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "sequence",
			Name:      "runs_total",
			Help:      "Completed sequence instances.",
		},
		[]string{"sequence", "success"},
	)
	sequenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lobby",
			Subsystem: "sequence",
			Name:      "duration_seconds",
			Help:      "Sequence instance duration in seconds, completions included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sequence"},
	)
	gamesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "games",
			Name:      "opened_total",
			Help:      "Open-game advertisements added.",
		},
		[]string{"lobby"},
	)
	gamesMatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobby",
			Subsystem: "games",
			Name:      "matched_total",
			Help:      "Owner/guest pairings created.",
		},
		[]string{"lobby"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sequences, sequenceDuration, gamesOpened, gamesMatched)
	})
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

func RecordSequence(name string, success bool, duration time.Duration) {
	RegisterMetrics()
	sequences.WithLabelValues(name, strconv.FormatBool(success)).Inc()
	sequenceDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func RecordGameOpened(lobby string) {
	RegisterMetrics()
	gamesOpened.WithLabelValues(lobby).Inc()
}

func RecordGameMatched(lobby string) {
	RegisterMetrics()
	gamesMatched.WithLabelValues(lobby).Inc()
}
