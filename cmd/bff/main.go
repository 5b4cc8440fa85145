// Package main is the entry point for the Inkline BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

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
	"github.com/pitabwire/inkline/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const (
	serviceName = "inkline-bff"

	// socialCacheSize bounds the per-subject feeds, follow lists, inboxes and
	// collections kept in memory.
	socialCacheSize = 4096
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, serviceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load flow definitions, validate, build registry.
	rules := flow.NewRules()
	defs, err := loadFlows(cfg.Flows)
	if err != nil {
		logger.Error("flow loading failed", zap.Error(err))
		return 1
	}
	if verrs := flow.NewValidator(rules).Validate(defs); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("flow validation error", zap.String("error", ve.Error()))
		}
		logger.Error("flow validation failed", zap.Int("errors", len(verrs)))
		return 1
	}
	flows := flow.NewRegistry(defs)
	metrics.SetFlowsLoaded(float64(flows.Len()))
	logger.Info("flows loaded", zap.Int("count", flows.Len()), zap.String("checksum", flows.Checksum()))

	// Step 5: Connect the data gateway.
	backend, closeBackend, err := buildGateway(ctx, cfg.Gateway, logger)
	if err != nil {
		logger.Error("gateway initialization failed", zap.Error(err))
		return 1
	}
	defer closeBackend()
	gw := gateway.NewResilient(backend, cfg.Gateway, metrics, logger)

	// Step 6: Session store.
	store, closeStore, err := buildSessionStore(ctx, cfg.Sessions, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	defer closeStore()

	// Step 7: Domain services.
	sessions := wizard.NewManager(flows, rules, store, metrics, logger,
		wizard.WithMaxOpen(cfg.Sessions.MaxOpen),
		wizard.WithIdleTimeout(cfg.Sessions.IdleTimeout),
	)
	go sessions.Run(ctx)

	socialSvc, err := social.NewService(gw, socialCacheSize, metrics, logger)
	if err != nil {
		logger.Error("social service initialization failed", zap.Error(err))
		return 1
	}

	uploader, closeUploader, err := upload.Open(ctx, cfg.Uploads, &http.Client{Timeout: cfg.Gateway.Timeout})
	if err != nil {
		logger.Error("upload initialization failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := closeUploader(); err != nil {
			logger.Error("upload bucket close error", zap.Error(err))
		}
	}()
	pipeline := upload.NewPipeline(uploader, cfg.Uploads.Concurrency, metrics, logger)

	checker, err := availability.NewChecker(availability.NewGatewayLookup(gw), cfg.Availability, metrics, logger)
	if err != nil {
		logger.Error("availability checker initialization failed", zap.Error(err))
		return 1
	}

	subscriptions := billing.NewGatewayStore(gw)
	billingHandler := billing.NewHandler(
		billing.NewService(subscriptions, cfg.Billing, logger),
		transport.SubjectFrom,
		logger,
	)

	contract, err := openapi.LoadFunctions()
	if err != nil {
		logger.Error("functions contract failed to load", zap.Error(err))
		return 1
	}

	// Step 8: Build HTTP router.
	var jwks *transport.JWKSClient
	if cfg.Identity.JWKSURL != "" {
		jwks = transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	}
	var secret []byte
	if cfg.Identity.SecretEnv != "" {
		secret = []byte(os.Getenv(cfg.Identity.SecretEnv))
	}

	readinessChecks := observability.ReadinessChecks{
		FlowsLoaded:  func() bool { return flows.Len() > 0 },
		Gateway:      gw,
		BillingStore: subscriptions,
		Metrics:      metrics,
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readinessChecks.SessionStore = hc
	}
	if hc, ok := uploader.(observability.HealthChecker); ok {
		readinessChecks.UploadBucket = hc
	}

	fetches := fetch.NewScope()
	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, jwks, secret),
		Sessions:       sessions,
		Submitter:      wizard.NewGatewaySubmitter(gw),
		Social:         socialSvc,
		Uploads:        pipeline,
		Availability:   checker,
		Billing:        billingHandler,
		Contract:       contract,
		Fetches:        fetches,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readinessChecks),
		MetricsHandler: observability.Handler(),
	})

	// Wrap router with metrics middleware.
	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("gateway", cfg.Gateway.Driver),
		zap.String("sessions", cfg.Sessions.Driver),
		zap.String("uploads", cfg.Uploads.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if n := fetches.Len(); n > 0 {
		logger.Warn("cancelling unfinished view fetches", zap.Int("count", n))
	}
	fetches.CancelAll()

	// Drop pending availability checks and flush session writes before the
	// deferred store closes run.
	checker.Close()
	sessions.CloseAll()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exit
}

// loadFlows reads the builtin flows and any configured directories. A flow
// in a directory replaces the builtin flow with the same id.
func loadFlows(cfg config.FlowsConfig) ([]model.FlowDefinition, error) {
	loader := flow.NewLoader()
	var defs []model.FlowDefinition
	if cfg.Builtin {
		builtin, err := loader.LoadBuiltin()
		if err != nil {
			return nil, fmt.Errorf("builtin flows: %w", err)
		}
		defs = builtin
	}
	if len(cfg.Directories) == 0 {
		return defs, nil
	}
	loaded, err := loader.LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(defs))
	for i, d := range defs {
		byID[d.ID] = i
	}
	for _, d := range loaded {
		if i, ok := byID[d.ID]; ok {
			defs[i] = d
			continue
		}
		byID[d.ID] = len(defs)
		defs = append(defs, d)
	}
	return defs, nil
}

// buildGateway creates the gateway backend based on config.
func buildGateway(ctx context.Context, cfg config.GatewayConfig, logger *zap.Logger) (gateway.Gateway, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory gateway; data is lost on restart")
		return gateway.NewMemoryGateway(), func() {}, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("gateway: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("gateway: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("gateway: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("gateway: ping: %w", err)
		}
		return gateway.NewPgGateway(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported gateway driver: %q", cfg.Driver)
	}
}

// buildSessionStore creates the wizard session store based on config.
func buildSessionStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (kvstore.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory session store")
		return kvstore.NewMemoryStore(cfg.TTL), func() {}, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close error", zap.Error(err))
			}
		}
		return kvstore.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}
