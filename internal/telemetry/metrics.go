package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "redbutton",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// TriggersTotal counts device trigger attempts by outcome.
var TriggersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "redbutton",
		Name:      "triggers_total",
		Help:      "Device trigger requests by result (created, duplicate, rejected, error).",
	},
	[]string{"result"},
)

// NotificationsTotal counts channel deliveries by outcome.
var NotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "redbutton",
		Name:      "notifications_total",
		Help:      "Notification attempts by channel and result.",
	},
	[]string{"channel", "result"},
)

// EscalationsTotal counts escalation step executions.
var EscalationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "redbutton",
		Name:      "escalations_total",
		Help:      "Escalation steps by outcome (dispatched, skipped).",
	},
	[]string{"outcome"},
)

// NewMetricsRegistry creates a Prometheus registry with default and custom collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		TriggersTotal,
		NotificationsTotal,
		EscalationsTotal,
	)
	return reg
}
