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

	// Permission resolver metrics
	PermissionChecksTotal    *prometheus.CounterVec
	PermissionResolveDuration prometheus.Histogram
	OverrideWritesTotal      prometheus.Counter

	// Campaign dialer metrics
	CallsDispatchedTotal *prometheus.CounterVec
	CallDuration         *prometheus.HistogramVec
	DialerQueueDepth     prometheus.Gauge

	// Billing metrics
	InvoicesGeneratedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	OrganizationsTotal  prometheus.Gauge
	LeadsTotal          prometheus.Gauge
	ActiveCampaignsTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorstep_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doorstep_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorstep_permission_checks_total",
				Help: "Total number of capability checks by outcome",
			},
			[]string{"capability", "outcome"},
		),
		PermissionResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "doorstep_permission_resolve_duration_seconds",
				Help:    "Effective permission set resolution duration",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		OverrideWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "doorstep_permission_override_writes_total",
				Help: "Total number of user override rows written",
			},
		),

		CallsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorstep_calls_dispatched_total",
				Help: "Total number of campaign calls dispatched by outcome",
			},
			[]string{"outcome"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doorstep_call_duration_seconds",
				Help:    "Duration of completed campaign calls",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		DialerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorstep_dialer_queue_depth",
				Help: "Number of leads currently queued for dialing",
			},
		),

		InvoicesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorstep_invoices_generated_total",
				Help: "Total number of invoices generated by status",
			},
			[]string{"status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorstep_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorstep_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		OrganizationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorstep_organizations_total",
				Help: "Total number of organizations",
			},
		),
		LeadsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorstep_leads_total",
				Help: "Total number of leads",
			},
		),
		ActiveCampaignsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorstep_active_campaigns_total",
				Help: "Number of campaigns in active status",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionResolveDuration,
		m.OverrideWritesTotal,
		m.CallsDispatchedTotal,
		m.CallDuration,
		m.DialerQueueDepth,
		m.InvoicesGeneratedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.OrganizationsTotal,
		m.LeadsTotal,
		m.ActiveCampaignsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
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
		})
	}
}

// SetDBStats exports database pool statistics
func (m *Metrics) SetDBStats(active, idle int) {
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
