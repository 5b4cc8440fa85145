package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
	uploadSizeBuckets      = []float64{10240, 102400, 1048576, 5242880, 10485760}
)

// Metrics holds all Prometheus metric instruments for the BFF. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Wizard metrics
	WizardStepUpdatesTotal      *prometheus.CounterVec
	WizardSubmissionsTotal      *prometheus.CounterVec
	WizardActiveSessions        *prometheus.GaugeVec
	SessionPersistFailuresTotal *prometheus.CounterVec

	// Optimistic list metrics
	ListMutationsTotal *prometheus.CounterVec
	ListRollbacksTotal *prometheus.CounterVec

	// Gateway metrics
	GatewayRequestsTotal       *prometheus.CounterVec
	GatewayRequestDuration     *prometheus.HistogramVec
	GatewayCircuitBreakerState prometheus.Gauge
	GatewayRetriesTotal        *prometheus.CounterVec

	// Upload metrics
	UploadsTotal        *prometheus.CounterVec
	UploadSizeBytes     prometheus.Histogram
	UploadBatchFailures prometheus.Counter

	// Availability metrics
	AvailabilityChecksTotal     *prometheus.CounterVec
	AvailabilityCacheHitsTotal  prometheus.Counter
	AvailabilityCacheMissTotal  prometheus.Counter
	AvailabilitySupersededTotal prometheus.Counter

	// System metrics
	FlowsLoaded            prometheus.Gauge
	MigrationsAppliedTotal *prometheus.CounterVec
	DependencyUp           *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkline_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkline_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Wizard
		WizardStepUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_wizard_step_updates_total",
			Help: "Total number of wizard step updates.",
		}, []string{"flow_id", "step_id"}),
		WizardSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_wizard_submissions_total",
			Help: "Total number of wizard submissions.",
		}, []string{"flow_id", "status"}),
		WizardActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inkline_wizard_active_sessions",
			Help: "Number of wizard sessions held in memory.",
		}, []string{"flow_id"}),
		SessionPersistFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_session_persist_failures_total",
			Help: "Total number of failed wizard session writes.",
		}, []string{"flow_id"}),

		// Optimistic lists
		ListMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_list_mutations_total",
			Help: "Total number of optimistic list mutations.",
		}, []string{"list", "status"}),
		ListRollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_list_rollbacks_total",
			Help: "Total number of optimistic list rollbacks.",
		}, []string{"list"}),

		// Gateway
		GatewayRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_gateway_requests_total",
			Help: "Total number of remote data gateway requests.",
		}, []string{"relation", "operation", "status"}),
		GatewayRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkline_gateway_request_duration_seconds",
			Help:    "Remote data gateway request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		GatewayCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkline_gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		GatewayRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_gateway_retries_total",
			Help: "Total number of remote data gateway retries.",
		}, []string{"operation"}),

		// Uploads
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_uploads_total",
			Help: "Total number of media uploads.",
		}, []string{"status"}),
		UploadSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inkline_upload_size_bytes",
			Help:    "Uploaded file size in bytes.",
			Buckets: uploadSizeBuckets,
		}),
		UploadBatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkline_upload_batch_partial_failures_total",
			Help: "Total number of upload batches with at least one failed file.",
		}),

		// Availability
		AvailabilityChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_availability_checks_total",
			Help: "Total number of remote username availability lookups.",
		}, []string{"result"}),
		AvailabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkline_availability_cache_hits_total",
			Help: "Total availability cache hits.",
		}),
		AvailabilityCacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkline_availability_cache_misses_total",
			Help: "Total availability cache misses.",
		}),
		AvailabilitySupersededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkline_availability_superseded_total",
			Help: "Total availability checks cancelled by a newer candidate.",
		}),

		// System
		FlowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkline_flows_loaded",
			Help: "Number of loaded flow definitions.",
		}),
		MigrationsAppliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkline_migrations_applied_total",
			Help: "Total number of migration statements executed.",
		}, []string{"status"}),
		DependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inkline_dependency_up",
			Help: "Whether a dependency passed its last readiness check (1) or not (0).",
		}, []string{"dependency"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Wizard
		m.WizardStepUpdatesTotal,
		m.WizardSubmissionsTotal,
		m.WizardActiveSessions,
		m.SessionPersistFailuresTotal,
		// Lists
		m.ListMutationsTotal,
		m.ListRollbacksTotal,
		// Gateway
		m.GatewayRequestsTotal,
		m.GatewayRequestDuration,
		m.GatewayCircuitBreakerState,
		m.GatewayRetriesTotal,
		// Uploads
		m.UploadsTotal,
		m.UploadSizeBytes,
		m.UploadBatchFailures,
		// Availability
		m.AvailabilityChecksTotal,
		m.AvailabilityCacheHitsTotal,
		m.AvailabilityCacheMissTotal,
		m.AvailabilitySupersededTotal,
		// System
		m.FlowsLoaded,
		m.MigrationsAppliedTotal,
		m.DependencyUp,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordStepUpdate records a wizard step write.
func (m *Metrics) RecordStepUpdate(flowID, stepID string) {
	if m == nil {
		return
	}
	m.WizardStepUpdatesTotal.WithLabelValues(flowID, stepID).Inc()
}

// RecordSubmission records the outcome of a wizard submission.
// Status is one of "success", "invalid", "rejected" or "failure".
func (m *Metrics) RecordSubmission(flowID, status string) {
	if m == nil {
		return
	}
	m.WizardSubmissionsTotal.WithLabelValues(flowID, status).Inc()
}

// SessionOpened increments the in-memory session gauge for a flow.
func (m *Metrics) SessionOpened(flowID string) {
	if m == nil {
		return
	}
	m.WizardActiveSessions.WithLabelValues(flowID).Inc()
}

// SessionClosed decrements the in-memory session gauge for a flow.
func (m *Metrics) SessionClosed(flowID string) {
	if m == nil {
		return
	}
	m.WizardActiveSessions.WithLabelValues(flowID).Dec()
}

// RecordPersistFailure records a failed session write.
func (m *Metrics) RecordPersistFailure(flowID string) {
	if m == nil {
		return
	}
	m.SessionPersistFailuresTotal.WithLabelValues(flowID).Inc()
}

// RecordListMutation records an optimistic mutation outcome.
// Status is one of "applied", "rolled_back" or "rejected".
func (m *Metrics) RecordListMutation(list, status string) {
	if m == nil {
		return
	}
	m.ListMutationsTotal.WithLabelValues(list, status).Inc()
	if status == "rolled_back" {
		m.ListRollbacksTotal.WithLabelValues(list).Inc()
	}
}

// RecordGatewayRequest records a remote data gateway call.
func (m *Metrics) RecordGatewayRequest(relation, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(relation, operation, status).Inc()
	m.GatewayRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetGatewayCircuitBreakerState sets the gateway circuit breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetGatewayCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.GatewayCircuitBreakerState.Set(state)
}

// RecordGatewayRetry records a retried gateway call.
func (m *Metrics) RecordGatewayRetry(operation string) {
	if m == nil {
		return
	}
	m.GatewayRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordUpload records a single file upload.
func (m *Metrics) RecordUpload(status string, size int64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		m.UploadSizeBytes.Observe(float64(size))
	}
}

// RecordUploadBatchFailure records a batch that finished with failures.
func (m *Metrics) RecordUploadBatchFailure() {
	if m == nil {
		return
	}
	m.UploadBatchFailures.Inc()
}

// RecordAvailabilityCheck records a remote availability lookup result.
// Result is one of "available", "taken", "invalid" or "error".
func (m *Metrics) RecordAvailabilityCheck(result string) {
	if m == nil {
		return
	}
	m.AvailabilityChecksTotal.WithLabelValues(result).Inc()
}

// RecordAvailabilityCacheHit records an availability cache hit.
func (m *Metrics) RecordAvailabilityCacheHit() {
	if m == nil {
		return
	}
	m.AvailabilityCacheHitsTotal.Inc()
}

// RecordAvailabilityCacheMiss records an availability cache miss.
func (m *Metrics) RecordAvailabilityCacheMiss() {
	if m == nil {
		return
	}
	m.AvailabilityCacheMissTotal.Inc()
}

// RecordAvailabilitySuperseded records a check cancelled by a newer one.
func (m *Metrics) RecordAvailabilitySuperseded() {
	if m == nil {
		return
	}
	m.AvailabilitySupersededTotal.Inc()
}

// SetFlowsLoaded sets the number of loaded flow definitions.
func (m *Metrics) SetFlowsLoaded(count float64) {
	if m == nil {
		return
	}
	m.FlowsLoaded.Set(count)
}

// RecordMigration records one executed migration statement.
func (m *Metrics) RecordMigration(status string) {
	if m == nil {
		return
	}
	m.MigrationsAppliedTotal.WithLabelValues(status).Inc()
}

// SetDependencyUp records the outcome of a dependency readiness check.
func (m *Metrics) SetDependencyUp(dependency string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyUp.WithLabelValues(dependency).Set(v)
}

// --- HTTP Middleware ---

// MetricsMiddleware records request metrics labelled by chi's route pattern
// rather than the raw path. Requests no route matched share a single label.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = withRouteContext(r)
		rec := newResponseRecorder(w)

		next.ServeHTTP(rec, r)

		pattern := matchedRoute(r)
		if pattern == "" {
			pattern = unmatchedRoute
		}
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start), reqSize, rec.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
