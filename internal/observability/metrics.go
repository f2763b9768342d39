package observability

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
			Namespace: "ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	serverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Protocol requests handled by the replica.",
		},
		[]string{"node", "operation", "status", "cached"},
	)
	serverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Protocol request execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "operation"},
	)
	serverSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Open client sessions.",
		},
		[]string{"node"},
	)
	clientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests completed by the client.",
		},
		[]string{"operation", "outcome"},
	)
	clientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Client request round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	clientReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Client session reconnect attempts.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			serverRequests, serverDuration, serverSessions,
			clientRequests, clientDuration, clientReconnects,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordServerRequest counts one replied request; cached replies skip execution.
func RecordServerRequest(node, operation, status string, cached bool, duration time.Duration) {
	RegisterMetrics()
	serverRequests.WithLabelValues(node, operation, status, strconv.FormatBool(cached)).Inc()
	if !cached {
		serverDuration.WithLabelValues(node, operation).Observe(duration.Seconds())
	}
}

func AddServerSessions(node string, delta int) {
	RegisterMetrics()
	serverSessions.WithLabelValues(node).Add(float64(delta))
}

func RecordClientRequest(operation, outcome string, duration time.Duration) {
	RegisterMetrics()
	clientRequests.WithLabelValues(operation, outcome).Inc()
	clientDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordClientReconnect() {
	RegisterMetrics()
	clientReconnects.Inc()
}
