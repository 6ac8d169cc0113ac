package observability

import (
	"context"
	"database/sql"
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

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec
	RoleChecksTotal       *prometheus.CounterVec
	TenantDenialsTotal    *prometheus.CounterVec

	// Resolver cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditEventsTotal *prometheus.CounterVec
	AuditPurgedTotal prometheus.Counter

	// Business metrics
	OrganizationsTotal prometheus.Gauge
	ActiveUsersTotal   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keystone_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keystone_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"permission", "outcome"},
		),
		RoleChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_role_checks_total",
				Help: "Total number of role threshold checks",
			},
			[]string{"required_role", "outcome"},
		),
		TenantDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_tenant_denials_total",
				Help: "Total number of tenant access denials",
			},
			[]string{"reason"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keystone_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keystone_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_rate_limit_rejections_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"organization"},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_audit_events_total",
				Help: "Total number of audit events",
			},
			[]string{"action", "status"},
		),
		AuditPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keystone_audit_purged_total",
				Help: "Total number of audit entries removed by retention",
			},
		),

		OrganizationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keystone_organizations_total",
				Help: "Total number of organizations",
			},
		),
		ActiveUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keystone_active_users_total",
				Help: "Total number of active users",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PermissionChecksTotal,
		m.RoleChecksTotal,
		m.TenantDenialsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RateLimitRejectionsTotal,
		m.AuditEventsTotal,
		m.AuditPurgedTotal,
		m.OrganizationsTotal,
		m.ActiveUsersTotal,
	)

	return m
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

// CollectDBStats copies connection pool stats into the database gauges.
// Intended to run on a ticker from main.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// CollectBusinessStats refreshes the organization and active-user gauges.
// Failures leave the gauges at their last collected values.
func (m *Metrics) CollectBusinessStats(ctx context.Context, db *sql.DB) {
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations WHERE is_active = TRUE`).Scan(&count); err == nil {
		m.OrganizationsTotal.Set(float64(count))
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_active = TRUE`).Scan(&count); err == nil {
		m.ActiveUsersTotal.Set(float64(count))
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
