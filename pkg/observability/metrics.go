package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Access control metrics
	AccessChecksTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec

	// Delegation propagation metrics
	PropagationOpsTotal *prometheus.CounterVec
	PropagationFanOut   *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Rate limit metrics
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Business metrics
	ClientsTotal      prometheus.Gauge
	UsersTotal        prometheus.Gauge
	TrackedReposTotal prometheus.Gauge
	DelegationsTotal  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitpulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gitpulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gitpulse_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Access control metrics
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitpulse_access_checks_total",
				Help: "Total number of access checks by outcome",
			},
			[]string{"required_role", "outcome"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gitpulse_access_check_duration_seconds",
				Help:    "Access check duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"required_role"},
		),

		// Delegation propagation metrics
		PropagationOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitpulse_propagation_operations_total",
				Help: "Total number of membership and delegation mutations",
			},
			[]string{"operation", "status"},
		),
		PropagationFanOut: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gitpulse_propagation_fanout_rows",
				Help:    "Derived membership rows touched per mutation",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"operation"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		// Rate limit metrics
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitpulse_ratelimit_rejections_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"path"},
		),

		// Business metrics
		ClientsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_clients_total",
				Help: "Total number of clients",
			},
		),
		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_users_total",
				Help: "Total number of users",
			},
		),
		TrackedReposTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_tracked_repos_total",
				Help: "Total number of tracked repositories",
			},
		),
		DelegationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gitpulse_delegations_total",
				Help: "Total number of active delegations",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.PropagationOpsTotal,
		m.PropagationFanOut,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.RateLimitRejectionsTotal,
		m.ClientsTotal,
		m.UsersTotal,
		m.TrackedReposTotal,
		m.DelegationsTotal,
	)

	return m
}

// ObserveAccessCheck records a single access decision.
func (m *Metrics) ObserveAccessCheck(requiredRole, outcome string, duration time.Duration) {
	m.AccessChecksTotal.WithLabelValues(requiredRole, outcome).Inc()
	m.AccessCheckDuration.WithLabelValues(requiredRole).Observe(duration.Seconds())
}

// ObserveMutation records a propagation mutation and its fan-out size.
func (m *Metrics) ObserveMutation(operation, status string, fanOut int64) {
	m.PropagationOpsTotal.WithLabelValues(operation, status).Inc()
	if status == "ok" {
		m.PropagationFanOut.WithLabelValues(operation).Observe(float64(fanOut))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
