package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"inkline_http_requests_total",
		"inkline_http_request_duration_seconds",
		"inkline_http_request_size_bytes",
		"inkline_http_response_size_bytes",
		"inkline_wizard_step_updates_total",
		"inkline_wizard_submissions_total",
		"inkline_wizard_active_sessions",
		"inkline_session_persist_failures_total",
		"inkline_list_mutations_total",
		"inkline_list_rollbacks_total",
		"inkline_gateway_requests_total",
		"inkline_gateway_request_duration_seconds",
		"inkline_gateway_circuit_breaker_state",
		"inkline_gateway_retries_total",
		"inkline_uploads_total",
		"inkline_upload_size_bytes",
		"inkline_upload_batch_partial_failures_total",
		"inkline_availability_checks_total",
		"inkline_availability_cache_hits_total",
		"inkline_availability_cache_misses_total",
		"inkline_availability_superseded_total",
		"inkline_flows_loaded",
		"inkline_migrations_applied_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordStepUpdate("artist-registration", "step1")
	m.RecordSubmission("artist-registration", "success")
	m.SessionOpened("artist-registration")
	m.RecordPersistFailure("artist-registration")
	m.RecordListMutation("feed", "rolled_back")
	m.RecordGatewayRequest("posts", "select", "ok", time.Millisecond)
	m.SetGatewayCircuitBreakerState(0)
	m.RecordGatewayRetry("update")
	m.RecordUpload("done", 2048)
	m.RecordUploadBatchFailure()
	m.RecordAvailabilityCheck("available")
	m.RecordAvailabilityCacheHit()
	m.RecordAvailabilityCacheMiss()
	m.RecordAvailabilitySuperseded()
	m.SetFlowsLoaded(3)
	m.RecordMigration("success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_nilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 0, 0)
	m.RecordStepUpdate("f", "s")
	m.RecordSubmission("f", "success")
	m.SessionOpened("f")
	m.SessionClosed("f")
	m.RecordPersistFailure("f")
	m.RecordListMutation("feed", "applied")
	m.RecordGatewayRequest("posts", "select", "ok", time.Millisecond)
	m.SetGatewayCircuitBreakerState(2)
	m.RecordGatewayRetry("select")
	m.RecordUpload("failed", 0)
	m.RecordUploadBatchFailure()
	m.RecordAvailabilityCheck("taken")
	m.RecordAvailabilityCacheHit()
	m.RecordAvailabilityCacheMiss()
	m.RecordAvailabilitySuperseded()
	m.SetFlowsLoaded(1)
	m.RecordMigration("failure")
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/ui/flows/{flowId}/session", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/ui/flows/{flowId}/session", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/ui/flows/{flowId}/submit", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ui/flows/{flowId}/session", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ui/flows/{flowId}/submit", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordSubmission(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSubmission("user-registration", "success")
	m.RecordSubmission("user-registration", "invalid")
	m.RecordSubmission("user-registration", "invalid")

	if got := testutil.ToFloat64(m.WizardSubmissionsTotal.WithLabelValues("user-registration", "success")); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WizardSubmissionsTotal.WithLabelValues("user-registration", "invalid")); got != 2 {
		t.Errorf("invalid = %v, want 2", got)
	}
}

func TestSessionGauge(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SessionOpened("studio-setup")
	m.SessionOpened("studio-setup")
	m.SessionClosed("studio-setup")

	if got := testutil.ToFloat64(m.WizardActiveSessions.WithLabelValues("studio-setup")); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
}

func TestRecordListMutation_countsRollbacks(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordListMutation("feed", "applied")
	m.RecordListMutation("feed", "rolled_back")
	m.RecordListMutation("feed", "rejected")

	if got := testutil.ToFloat64(m.ListRollbacksTotal.WithLabelValues("feed")); got != 1 {
		t.Errorf("rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ListMutationsTotal.WithLabelValues("feed", "applied")); got != 1 {
		t.Errorf("applied = %v, want 1", got)
	}
}

func TestRecordGatewayRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordGatewayRequest("likes", "insert", "ok", 10*time.Millisecond)
	m.RecordGatewayRequest("likes", "insert", "error", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("likes", "insert", "error")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.GatewayRequestDuration); count == 0 {
		t.Error("expected gateway duration histogram to have observations")
	}
}

func TestSetGatewayCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetGatewayCircuitBreakerState(2)
	if got := testutil.ToFloat64(m.GatewayCircuitBreakerState); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	m.SetGatewayCircuitBreakerState(0)
	if got := testutil.ToFloat64(m.GatewayCircuitBreakerState); got != 0 {
		t.Errorf("state = %v, want 0", got)
	}
}

func TestRecordUpload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordUpload("done", 4096)
	m.RecordUpload("failed", 0)
	m.RecordUploadBatchFailure()

	if got := testutil.ToFloat64(m.UploadsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed uploads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadBatchFailures); got != 1 {
		t.Errorf("batch failures = %v, want 1", got)
	}
}

func TestRecordAvailabilityCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordAvailabilityCacheHit()
	m.RecordAvailabilityCacheHit()
	m.RecordAvailabilityCacheMiss()
	m.RecordAvailabilitySuperseded()

	if got := testutil.ToFloat64(m.AvailabilityCacheHitsTotal); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AvailabilityCacheMissTotal); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AvailabilitySupersededTotal); got != 1 {
		t.Errorf("superseded = %v, want 1", got)
	}
}

func TestSetFlowsLoaded(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetFlowsLoaded(3)
	if got := testutil.ToFloat64(m.FlowsLoaded); got != 3 {
		t.Errorf("flows loaded = %v, want 3", got)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/ui/flows/{flowId}/session", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/ui/flows/artist-registration/session", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ui/flows/{flowId}/session", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/ui/flows/{flowId}/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/ui/flows/studio-setup/submit", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ui/flows/{flowId}/submit", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_unroutedRequestsShareLabel(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/raw/one", "/raw/two"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200"))
	if val != 2 {
		t.Errorf("unmatched requests = %v, want 2", val)
	}
}

func TestMetricsMiddleware_wrapsRouter(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Route("/ui", func(r chi.Router) {
		r.Post("/posts/{postId}/like", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	handler := m.MetricsMiddleware(r)

	for _, id := range []string{"p1", "p2", "p3"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ui/posts/"+id+"/like", nil))
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ui/posts/{postId}/like", "200")); val != 3 {
		t.Errorf("like requests = %v, want 3", val)
	}
	if val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")); val != 1 {
		t.Errorf("unmatched requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_nilMetrics(t *testing.T) {
	var m *Metrics
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/inbox", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(backendDurationBuckets) != 9 {
		t.Errorf("backendDurationBuckets length = %d, want 9", len(backendDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
