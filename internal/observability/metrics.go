package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "standings_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// SyncRuns counts per-character sync runs by outcome (ok, error kind).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_sync_runs_total",
		Help: "Total number of character contact sync runs by outcome",
	}, []string{"outcome"})

	// SyncDuration records how long a single character sync took.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "standings_sync_duration_seconds",
		Help:    "Duration of a character contact sync in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"mode"})

	// ContactChanges counts contact operations applied to characters.
	ContactChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_contact_changes_total",
		Help: "Contacts added, updated or deleted by sync",
	}, []string{"operation"})

	// ESIRequests counts external API calls by method and status class.
	ESIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_esi_requests_total",
		Help: "External contact API requests by method and response status",
	}, []string{"method", "status"})

	// ESIRetries counts retried external API calls.
	ESIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "standings_esi_retries_total",
		Help: "External contact API requests retried after a transient failure",
	})

	// WorkflowDecisions counts approvals and rejections by audit action.
	WorkflowDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_workflow_decisions_total",
		Help: "Standing request and revocation decisions by action",
	}, []string{"action"})

	// AutoRevocations counts synced characters deactivated automatically.
	AutoRevocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_auto_revocations_total",
		Help: "Synced characters deactivated automatically by reason",
	}, []string{"reason"})

	// SchedulerJobRuns counts scheduled job executions by job and result.
	SchedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_scheduler_job_runs_total",
		Help: "Scheduled job executions by job and result",
	}, []string{"job", "result"})

	// NameCacheLookups counts entity name lookups by cache tier (lru, redis, remote).
	NameCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_name_lookups_total",
		Help: "Entity name lookups by the tier that served them",
	}, []string{"tier"})

	// WebSocketConnectionsTotal is the gauge of open notification streams.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "standings_websocket_connections_total",
		Help: "Number of open notification WebSocket connections",
	})

	// WebSocketBackpressureDrops counts notifications dropped for slow or closed clients.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standings_websocket_backpressure_drops_total",
		Help: "Notifications dropped before reaching a WebSocket client",
	}, []string{"reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
