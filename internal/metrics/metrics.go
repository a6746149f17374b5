package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus collectors of the cockpit service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Account security.
	SignInsTotal             *prometheus.CounterVec
	LockoutsTotal            prometheus.Counter
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Alert scanner.
	NotificationsCreatedTotal *prometheus.CounterVec
	ScanDuration              *prometheus.HistogramVec
	ScansTotal                *prometheus.CounterVec

	// Realtime.
	WebsocketConnections prometheus.Gauge

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cockpit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cockpit_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		SignInsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_signins_total",
			Help: "Sign-in attempts by outcome.",
		}, []string{"outcome"}),

		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cockpit_account_lockouts_total",
			Help: "Accounts locked after repeated failed sign-ins.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_ratelimit_rejections_total",
			Help: "Requests rejected by the auth endpoint rate limiter.",
		}, []string{"path"}),

		NotificationsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_notifications_created_total",
			Help: "Notifications created by the alert scanner.",
		}, []string{"type"}),

		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cockpit_alert_scan_duration_seconds",
			Help:    "Duration of alert scan passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pass"}),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cockpit_alert_scans_total",
			Help: "Alert scan passes by result.",
		}, []string{"pass", "status"}),

		WebsocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cockpit_websocket_connections",
			Help: "Open realtime websocket connections.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cockpit_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SignInsTotal,
		m.LockoutsTotal,
		m.RateLimitRejectionsTotal,
		m.NotificationsCreatedTotal,
		m.ScanDuration,
		m.ScansTotal,
		m.WebsocketConnections,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, duration time.Duration, size int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(size))
}

// RecordSignIn counts a sign-in attempt by outcome.
func (m *Metrics) RecordSignIn(outcome string) {
	m.SignInsTotal.WithLabelValues(outcome).Inc()
}

// RecordLockout counts an account lockout.
func (m *Metrics) RecordLockout() {
	m.LockoutsTotal.Inc()
}

// IncRateLimitRejection counts a rate-limited request.
func (m *Metrics) IncRateLimitRejection(path string) {
	m.RateLimitRejectionsTotal.WithLabelValues(path).Inc()
}

// RecordNotificationCreated counts a notification written by the scanner.
func (m *Metrics) RecordNotificationCreated(notificationType string) {
	m.NotificationsCreatedTotal.WithLabelValues(notificationType).Inc()
}

// RecordScan records the duration and result of one scan pass.
func (m *Metrics) RecordScan(pass string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ScanDuration.WithLabelValues(pass).Observe(duration.Seconds())
	m.ScansTotal.WithLabelValues(pass, status).Inc()
}
