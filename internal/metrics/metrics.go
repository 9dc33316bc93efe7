package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emberly_messages_persisted_total",
			Help: "Messages durably written, by type",
		},
		[]string{"type"},
	)

	EventsFannedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emberly_events_fanned_out_total",
			Help: "Real-time events delivered to connected sessions",
		},
		[]string{"event"},
	)

	CacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emberly_cache_fallbacks_total",
			Help: "Cache calls that failed and fell back to the durable store",
		},
		[]string{"op"},
	)

	OnlineSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emberly_online_sessions",
			Help: "Currently connected sessions",
		},
	)

	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emberly_persist_latency_seconds",
			Help:    "Durable message write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emberly_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
