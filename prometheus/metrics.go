package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counter
	LoginCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverage_login_total",
			Help: "Total number of login attempts",
		},
	)

	// User registration counter
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverage_user_register_total",
			Help: "Total number of user registrations",
		},
	)

	// Coverage lifecycle counter
	CoverageOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_operations_total",
			Help: "Total number of coverage operations",
		},
		[]string{"operation"}, // operation can be "create", "list", "delete", etc.
	)

	// Tenant data read counter
	DataQueryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_data_queries_total",
			Help: "Total number of tenant data queries",
		},
		[]string{"dataset", "kind"}, // dataset "sensor"/"sink", kind "list"/"filter"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // type can be "login_failure", "invalid_token", "forbidden" etc.
	)

	// Coverage-specific error counter
	CoverageErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_errors_total",
			Help: "Total number of coverage-related errors",
		},
		[]string{"coverage", "error_type"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "provision", "delete"
	)
)

// Gauge metrics
var (
	// Provisioned coverages
	ProvisionedCoveragesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverage_provisioned_total",
			Help: "Number of currently provisioned coverages",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coverage_service_info",
			Help: "Information about the coverage service",
		},
		[]string{"version"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(CoverageOperationCounter)
	prometheus.MustRegister(DataQueryCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(CoverageErrorCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	// Register gauges
	prometheus.MustRegister(ProvisionedCoveragesGauge)
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			// Record metrics
			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordCoverageError records a coverage-related error
func RecordCoverageError(coverage, errorType string) {
	CoverageErrorCounter.With(prometheus.Labels{
		"coverage":   coverage,
		"error_type": errorType,
	}).Inc()
}

// RecordCoverageOperation records a coverage lifecycle operation
func RecordCoverageOperation(operation string) {
	CoverageOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordDataQuery records a tenant data query
func RecordDataQuery(dataset, kind string) {
	DataQueryCounter.With(prometheus.Labels{"dataset": dataset, "kind": kind}).Inc()
}

// UpdateProvisionedCoverages updates the provisioned coverages gauge
func UpdateProvisionedCoverages(count int) {
	ProvisionedCoveragesGauge.Set(float64(count))
}
