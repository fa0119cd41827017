// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scanner assembles the PageSentry scanning service: HTTP
// routing via Gin, the detection engine, the strategy registry, the
// BadgerDB state store, and the observability infrastructure.
//
// Usage:
//
//	cfg := scanner.Config{Port: 12310, LLMBackend: "ollama"}
//	svc, err := scanner.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pagesentry/pagesentry/pkg/logging"
	"github.com/pagesentry/pagesentry/services/llm"
	"github.com/pagesentry/pagesentry/services/redact"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
	"github.com/pagesentry/pagesentry/services/scanner/modes"
	"github.com/pagesentry/pagesentry/services/scanner/observability"
	"github.com/pagesentry/pagesentry/services/scanner/routes"
	"github.com/pagesentry/pagesentry/services/scanner/storage"
)

// Service defines the contract for the scanner service. Run blocks
// until the server stops; Router exposes the Gin engine for tests.
type Service interface {
	Run() error
	Router() *gin.Engine
}

// Config holds scanner configuration. All fields have defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend selects the model provider: "ollama" or "openai".
	// Default: "ollama". A backend that fails to come up is not fatal;
	// the service degrades to pattern mode.
	LLMBackend string

	// DefaultMode is the detection mode activated at startup when no
	// persisted mode exists. Default: "everyday".
	DefaultMode string

	// DataDir is the BadgerDB directory. Empty uses an in-memory
	// store (state lost on restart).
	DataDir string

	// LogDir enables the scan audit log file. Empty disables it.
	LogDir string

	// CloudEndpoint is the remote scanner API URL for cloud mode.
	CloudEndpoint string

	// UserEmail is sent with cloud scan requests when set. Persisted
	// on first start.
	UserEmail string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "pagesentry-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics exposes /metrics. Default: true.
	EnableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// Engine holds the analysis pipeline tunables (timeouts, cache
	// bounds, fingerprint length). Zero values use engine defaults.
	Engine engine.Config
}

type service struct {
	config        Config
	router        *gin.Engine
	store         *storage.Store
	engine        *engine.Engine
	registry      *modes.Registry
	auditLogger   *logging.Logger
	tracerCleanup func(context.Context)
}

// New creates a scanner Service: tracing, metrics, storage, the LLM
// provider, the strategy registry, the engine, and the HTTP router.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics && observability.DefaultMetrics == nil {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the scanner")
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := s.initAuditLogger(); err != nil {
		slog.Warn("Audit log unavailable, continuing with stderr only", "error", err)
	}

	if err := s.initEngine(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *service) Run() error {
	defer s.cleanup()

	s.engine.Start()
	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting scanner server", "port", s.config.Port, "mode", s.engine.Mode())

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = modes.ModeEveryday
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "pagesentry-otel-collector:4317"
	}
	cfg.EnableMetrics = true
	return cfg
}

// initTracer sets up the OTLP trace exporter. Uses an insecure gRPC
// connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("scanner-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

func (s *service) initStore() error {
	var err error
	if s.config.DataDir == "" {
		slog.Warn("No data directory configured, state will not survive restarts")
		s.store, err = storage.OpenInMemory()
	} else {
		s.store, err = storage.Open(storage.DefaultConfig(s.config.DataDir))
	}
	if err != nil {
		return err
	}

	if s.config.UserEmail != "" {
		if err := s.store.SaveUserEmail(s.config.UserEmail); err != nil {
			slog.Warn("Failed to persist user email", "error", err)
		}
	}
	return nil
}

func (s *service) initAuditLogger() error {
	if s.config.LogDir == "" {
		return nil
	}
	logger, err := logging.New(logging.Config{
		LogDir:  s.config.LogDir,
		Service: "scannerd",
		Quiet:   true,
	})
	if err != nil {
		return err
	}
	s.auditLogger = logger
	return nil
}

// initEngine wires provider, redactor, registry, and engine, then
// activates the persisted mode (or the configured default).
func (s *service) initEngine() error {
	provider := s.initProvider()

	redactor, err := redact.New()
	if err != nil {
		return fmt.Errorf("failed to initialize redactor: %w", err)
	}

	installID, err := s.store.InstallID()
	if err != nil {
		return fmt.Errorf("failed to load install ID: %w", err)
	}
	userEmail, err := s.store.UserEmail()
	if err != nil {
		slog.Warn("Failed to load user email", "error", err)
	}

	s.registry = modes.NewRegistry(provider, redactor, modes.CloudConfig{
		Endpoint:  s.config.CloudEndpoint,
		InstallID: installID,
		UserEmail: userEmail,
	}, nil)

	var audit *slog.Logger
	if s.auditLogger != nil {
		audit = s.auditLogger.Logger
	}
	s.engine, err = engine.New(s.config.Engine, s.registry, s.store, observability.DefaultMetrics, audit)
	if err != nil {
		return err
	}

	mode, err := s.store.LoadMode()
	if err != nil {
		slog.Warn("Failed to load persisted mode", "error", err)
	}
	if mode == "" || !modes.KnownMode(mode) {
		mode = s.config.DefaultMode
	}
	if err := s.engine.ChangeMode(context.Background(), mode); err != nil {
		return fmt.Errorf("failed to activate %s mode: %w", mode, err)
	}
	return nil
}

// initProvider selects the model backend. Failure is not fatal: a nil
// provider makes AI modes fall back to the pattern strategy.
func (s *service) initProvider() llm.Provider {
	var (
		provider llm.Provider
		err      error
	)
	switch s.config.LLMBackend {
	case "openai":
		provider, err = llm.NewOpenAIProvider()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		provider, err = llm.NewOllamaProvider()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		provider, err = llm.NewOllamaProvider()
	}
	if err != nil {
		slog.Warn("LLM backend unavailable, AI modes will degrade to pattern scanning", "error", err)
		return nil
	}
	return provider
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("scanner-service"))

	routes.SetupRoutes(s.router, s.engine, s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.engine != nil {
		s.engine.Shutdown()
	}
	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			slog.Warn("Audit logger close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
