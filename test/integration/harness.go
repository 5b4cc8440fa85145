// Package integration provides a reusable test harness for end-to-end
// integration testing of the Inkline BFF server. It starts a full HTTP server
// over an in-memory gateway, a Redis-backed session store, an in-memory
// media bucket and a test JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gocloud.dev/blob/memblob"

	"github.com/pitabwire/inkline/internal/availability"
	"github.com/pitabwire/inkline/internal/billing"
	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/internal/fetch"
	"github.com/pitabwire/inkline/internal/flow"
	"github.com/pitabwire/inkline/internal/gateway"
	"github.com/pitabwire/inkline/internal/kvstore"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/internal/openapi"
	"github.com/pitabwire/inkline/internal/social"
	"github.com/pitabwire/inkline/internal/transport"
	"github.com/pitabwire/inkline/internal/upload"
	"github.com/pitabwire/inkline/internal/wizard"
)

// TestHarness encapsulates a fully wired BFF instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Backend  *gateway.MemoryGateway
	Gateway  *gateway.Resilient
	Redis    *miniredis.Miniredis
	Sessions *wizard.Manager
	Metrics  *observability.Metrics

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	circuitBreaker *config.CircuitBreakerConfig
	debounce       time.Duration
	prices         map[string]string
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithCircuitBreaker overrides the gateway circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.circuitBreaker = &cb
	}
}

// WithDebounce sets the username availability debounce window.
func WithDebounce(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.debounce = d
	}
}

// WithPrices restricts checkout to the given plan prices.
func WithPrices(prices map[string]string) HarnessOption {
	return func(c *harnessConfig) {
		c.prices = prices
	}
}

// NewTestHarness creates and starts a full BFF test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		debounce:       20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}
	logger := zap.NewNop()

	// Step 1: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 2: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:8081"}
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		JWKSURL:    h.issuer.JWKSURL(),
		Algorithms: []string{"RS256", "HS256"},
	}
	h.cfg.Gateway.Retry.MaxAttempts = 1
	if hc.circuitBreaker != nil {
		h.cfg.Gateway.CircuitBreaker = *hc.circuitBreaker
	}
	h.cfg.Availability.Debounce = hc.debounce
	h.cfg.Billing.Prices = hc.prices
	h.cfg.Uploads.PublicURL = "https://media.test.inkline.app"

	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())

	// Step 3: Load flows.
	defs, err := flow.NewLoader().LoadBuiltin()
	if err != nil {
		t.Fatalf("load flows: %v", err)
	}
	rules := flow.NewRules()
	if verrs := flow.NewValidator(rules).Validate(defs); len(verrs) > 0 {
		t.Fatalf("validate flows: %v", verrs)
	}
	flows := flow.NewRegistry(defs)

	// Step 4: Gateway and stores.
	h.Backend = gateway.NewMemoryGateway()
	h.Gateway = gateway.NewResilient(h.Backend, h.cfg.Gateway, h.Metrics, logger)

	h.Redis = miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kvstore.NewRedisStore(client, h.cfg.Sessions.KeyPrefix, h.cfg.Sessions.TTL)

	// Step 5: Domain services.
	h.Sessions = wizard.NewManager(flows, rules, store, h.Metrics, logger)
	t.Cleanup(h.Sessions.CloseAll)

	socialSvc, err := social.NewService(h.Gateway, 64, h.Metrics, logger)
	if err != nil {
		t.Fatalf("social service: %v", err)
	}

	uploader := upload.NewBlobUploader(memblob.OpenBucket(nil), h.cfg.Uploads.PublicURL)
	t.Cleanup(func() { uploader.Close() })

	checker, err := availability.NewChecker(availability.NewGatewayLookup(h.Gateway), h.cfg.Availability, h.Metrics, logger)
	if err != nil {
		t.Fatalf("availability checker: %v", err)
	}
	t.Cleanup(checker.Close)

	subscriptions := billing.NewGatewayStore(h.Gateway)
	contract, err := openapi.LoadFunctions()
	if err != nil {
		t.Fatalf("functions contract: %v", err)
	}

	// Step 6: Build router with full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks, h.issuer.Secret()),
		Sessions:     h.Sessions,
		Submitter:    wizard.NewGatewaySubmitter(h.Gateway),
		Social:       socialSvc,
		Uploads:      upload.NewPipeline(uploader, h.cfg.Uploads.Concurrency, h.Metrics, logger),
		Availability: checker,
		Billing: billing.NewHandler(
			billing.NewService(subscriptions, h.cfg.Billing, logger),
			transport.SubjectFrom,
			logger,
		),
		Contract:      contract,
		Fetches:       fetch.NewScope(),
		HealthHandler: observability.HandleHealth(),
		ReadyHandler: observability.HandleReady(observability.ReadinessChecks{
			FlowsLoaded:  func() bool { return flows.Len() > 0 },
			Gateway:      h.Gateway,
			SessionStore: store,
			UploadBucket: uploader,
			BillingStore: subscriptions,
			Metrics:      h.Metrics,
		}),
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(h.Metrics.MetricsMiddleware(observability.TracingMiddleware(router)))
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid RS256 token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateHMACToken creates a valid HS256 token with the given claims.
func (h *TestHarness) GenerateHMACToken(claims TestClaims) string {
	return h.issuer.GenerateHMACToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.Do("GET", path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do("POST", path, body, token)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do("PUT", path, body, token)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.Do("DELETE", path, nil, token)
}

// Do performs a request with an optional JSON body and bearer token.
func (h *TestHarness) Do(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	return h.send(method, path, bodyReader, "application/json", token)
}

// Send performs a request with a raw body and content type.
func (h *TestHarness) Send(method, path string, body io.Reader, contentType, token string) *http.Response {
	h.t.Helper()
	return h.send(method, path, body, contentType, token)
}

func (h *TestHarness) send(method, path string, body io.Reader, contentType, token string) *http.Response {
	h.t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// ErrorCode parses an error envelope response and returns its code.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	h.ParseJSON(resp, &body)
	return body.Error.Code
}

// --- Default test claims ---

// ArtistClaims returns TestClaims for a tattoo artist.
func ArtistClaims() TestClaims {
	return TestClaims{
		SubjectID: "artist-1",
		Email:     "artist@inkline.example.com",
		Role:      "authenticated",
	}
}

// ClientClaims returns TestClaims for a client browsing portfolios.
func ClientClaims() TestClaims {
	return TestClaims{
		SubjectID: "client-1",
		Email:     "client@inkline.example.com",
		Role:      "authenticated",
	}
}

// --- Fixtures ---

// SeedPortfolio loads posts, a profile, a collection and a conversation
// owned by the client into the backing gateway.
func (h *TestHarness) SeedPortfolio() {
	h.Backend.Seed("profiles",
		gateway.Row{"id": "artist-1", "username": "needle.work", "display_name": "Needle Work"},
	)
	h.Backend.Seed("posts",
		PostFixture("post-1", "artist-1", "blackwork"),
		PostFixture("post-2", "artist-1", "fineline"),
		PostFixture("post-3", "artist-1", "blackwork"),
	)
	h.Backend.Seed("collections", gateway.Row{"id": "col-1", "user_id": "client-1", "name": "Ideas"})
	h.Backend.Seed("collection_posts",
		gateway.Row{"collection_id": "col-1", "post_id": "post-1", "position": 0},
		gateway.Row{"collection_id": "col-1", "post_id": "post-2", "position": 1},
		gateway.Row{"collection_id": "col-1", "post_id": "post-3", "position": 2},
	)
	h.Backend.Seed("conversations",
		gateway.Row{"id": "conv-1", "user_id": "client-1", "peer_id": "artist-1", "unread_count": 3, "last_message": "See you Friday"},
	)
}

// PostFixture returns a post row with a single style.
func PostFixture(id, authorID, style string) gateway.Row {
	return gateway.Row{
		"id":         id,
		"user_id":    authorID,
		"caption":    fmt.Sprintf("%s piece", style),
		"image_url":  "https://media.test.inkline.app/posts/" + id + ".jpg",
		"styles":     []string{style},
		"like_count": 0,
		"created_at": "2026-03-01T12:00:00Z",
	}
}
