// Package metrics provides Prometheus metrics for a VaultSync node.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	transactionsTotal *prometheus.CounterVec
	mutationsLogged   *prometheus.CounterVec

	syncRounds       *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	changesPushed    *prometheus.CounterVec
	changesPulled    *prometheus.CounterVec
	changesApplied   *prometheus.CounterVec
	changesRejected  *prometheus.CounterVec
	conflictsTotal   *prometheus.CounterVec
	mailboxDepth     prometheus.Gauge
	mailboxRejected  *prometheus.CounterVec
	peersKnown       *prometheus.GaugeVec
	pendingChanges   prometheus.Gauge
	conflictsShipped *prometheus.CounterVec
	healthStatus     prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// NewMetrics creates and registers Prometheus metrics. Metrics are process
// wide; later calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vaultsync_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"method", "route"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "vaultsync_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
			transactionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_transactions_total",
					Help: "Total number of transactions by type and outcome",
				},
				[]string{"type", "status"},
			),
			mutationsLogged: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_mutations_logged_total",
					Help: "Local mutations appended to the change log",
				},
				[]string{"record_type", "operation"},
			),
			syncRounds: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_sync_rounds_total",
					Help: "Total number of sync rounds",
				},
				[]string{"status"},
			),
			syncDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "vaultsync_sync_round_duration_seconds",
					Help:    "Duration of sync rounds",
					Buckets: prometheus.DefBuckets,
				},
			),
			changesPushed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_changes_pushed_total",
					Help: "Change records pushed to peers",
				},
				[]string{"peer"},
			),
			changesPulled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_changes_pulled_total",
					Help: "Change records pulled from peers",
				},
				[]string{"peer"},
			),
			changesApplied: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_changes_applied_total",
					Help: "Remote change records by resolution action",
				},
				[]string{"action"},
			),
			changesRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_changes_rejected_total",
					Help: "Remote change records rejected before apply",
				},
				[]string{"reason"},
			),
			conflictsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_conflicts_total",
					Help: "Concurrent modifications detected",
				},
				[]string{"record_type"},
			),
			mailboxDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "vaultsync_actor_mailbox_depth",
					Help: "Commands waiting in the sync actor mailbox",
				},
			),
			mailboxRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_actor_commands_rejected_total",
					Help: "Commands refused by the sync actor",
				},
				[]string{"reason"},
			),
			peersKnown: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "vaultsync_peers",
					Help: "Known peers by status",
				},
				[]string{"status"},
			),
			pendingChanges: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "vaultsync_pending_changes",
					Help: "Local changes not yet acknowledged by every peer",
				},
			),
			conflictsShipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vaultsync_conflicts_archived_total",
					Help: "Conflicts shipped to the central archive",
				},
				[]string{"status"},
			),
			healthStatus: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "vaultsync_health_status",
					Help: "Health status of the node (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})
	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTransaction records a committed or failed transaction.
func (m *Metrics) RecordTransaction(txType, status string) {
	m.transactionsTotal.WithLabelValues(txType, status).Inc()
}

// RecordMutation records a local change log append.
func (m *Metrics) RecordMutation(recordType, operation string) {
	m.mutationsLogged.WithLabelValues(recordType, operation).Inc()
}

// RecordSyncRound records the outcome of one sync round.
func (m *Metrics) RecordSyncRound(status string, duration time.Duration) {
	m.syncRounds.WithLabelValues(status).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

// RecordPushed records change records pushed to a peer.
func (m *Metrics) RecordPushed(peer string, n int) {
	m.changesPushed.WithLabelValues(peer).Add(float64(n))
}

// RecordPulled records change records pulled from a peer.
func (m *Metrics) RecordPulled(peer string, n int) {
	m.changesPulled.WithLabelValues(peer).Add(float64(n))
}

// RecordApplied records how a remote change was resolved.
func (m *Metrics) RecordApplied(action string) {
	m.changesApplied.WithLabelValues(action).Inc()
}

// RecordRejected records a remote change dropped before apply.
func (m *Metrics) RecordRejected(reason string) {
	m.changesRejected.WithLabelValues(reason).Inc()
}

// RecordConflict records a detected concurrent modification.
func (m *Metrics) RecordConflict(recordType string) {
	m.conflictsTotal.WithLabelValues(recordType).Inc()
}

// SetMailboxDepth sets the actor mailbox depth.
func (m *Metrics) SetMailboxDepth(n int) {
	m.mailboxDepth.Set(float64(n))
}

// RecordMailboxRejected records a command refused by the actor.
func (m *Metrics) RecordMailboxRejected(reason string) {
	m.mailboxRejected.WithLabelValues(reason).Inc()
}

// SetPeers sets the number of known peers with the given status.
func (m *Metrics) SetPeers(status string, n int) {
	m.peersKnown.WithLabelValues(status).Set(float64(n))
}

// SetPendingChanges sets the pending change gauge.
func (m *Metrics) SetPendingChanges(n int) {
	m.pendingChanges.Set(float64(n))
}

// RecordArchived records conflicts shipped to the archive.
func (m *Metrics) RecordArchived(status string, n int) {
	m.conflictsShipped.WithLabelValues(status).Add(float64(n))
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server. It blocks until the server stops.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records HTTP metrics labelled by the matched route template so
// path parameters do not explode label cardinality.
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.requestsInFlight.Inc()
			defer m.requestsInFlight.Dec()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, routeTemplate(r), rw.statusCode, time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
