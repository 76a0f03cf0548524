// Package telemetry provides application-level observability for the civil registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<BRG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, so it is never
// reachable through the public API port.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Certificate workflow counters (creations, transitions, control number collisions)
//   - Public tracking lookup outcomes
//   - Audit write failures and rate limit rejections
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/certificates/:id)
// rather than the raw request URL so certificate ids and control numbers never
// become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by route template
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Certificate workflow metrics.
//
// CertificateRequestsCreatedTotal is a CounterVec with label {type} (CLEARANCE,
// INDIGENCY, ...) incremented once per persisted request.
//
// CertificateStatusTransitionsTotal is a CounterVec with labels {from, to} incremented
// after a conditional status update succeeds.
//
// ControlNumberCollisionsTotal counts unique-constraint violations on control_number.
// Any sustained non-zero rate points at a broken generator or clock.
//
// Example PromQL queries:
//   - Requests per type (daily):    sum by (type) (increase(certificate_requests_created_total[24h]))
//   - Approval throughput:          rate(certificate_status_transitions_total{to="APPROVED"}[1h])
//   - Alert expression:             increase(certificate_control_number_collisions_total[10m]) > 0
var (
	CertificateRequestsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_requests_created_total",
			Help: "Total number of certificate requests created, by certificate type.",
		},
		[]string{"type"},
	)

	CertificateStatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificate_status_transitions_total",
			Help: "Total number of applied certificate status transitions, by source and target status.",
		},
		[]string{"from", "to"},
	)

	ControlNumberCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certificate_control_number_collisions_total",
			Help: "Total number of control number unique-constraint collisions that triggered regeneration.",
		},
	)
)

// TrackingLookupsTotal is a CounterVec with label {result} ("found", "not_found",
// "error") incremented on each public tracking lookup. A spike in not_found with a
// flat found rate usually means someone is enumerating control numbers.
var TrackingLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certificate_tracking_lookups_total",
		Help: "Total number of public tracking lookups, by result.",
	},
	[]string{"result"},
)

// AuditWriteFailuresTotal is a CounterVec with label {sink} ("database" or the shipper
// type). Audit writes never fail the triggering request, so this counter is the only
// signal that the trail has gaps.
//
// RateLimitRejectionsTotal is a CounterVec with label {limiter} ("general",
// "tracking", "login").
var (
	AuditWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of failed audit writes, by sink.",
		},
		[]string{"sink"},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by a rate limiter, by limiter name.",
		},
		[]string{"limiter"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <BRG_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and closes the pool.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
