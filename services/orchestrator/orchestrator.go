// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the document QA service together.
//
// New builds every component from a Config: telemetry, the embedding and
// LLM clients, the search index (Weaviate or in-process), the blob store,
// the conversation registry with its idle-session scheduler, and the gin
// router. The same wiring backs both the HTTP server and the CLI ingest
// command.
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/enrichment"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/ttl"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// serviceName identifies this process in traces and metrics.
const serviceName = "orchestrator-service"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails. On
	// cancellation in-flight requests get shutdownTimeout to finish.
	Run(ctx context.Context) error

	// IngestFile runs the upload pipeline without going through HTTP.
	IngestFile(ctx context.Context, filename string, data []byte) (*services.IngestResult, error)

	// DeleteFile removes an ingested document's chunks and stored original.
	DeleteFile(ctx context.Context, filename string) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close stops the scheduler, flushes telemetry, and releases the index
	// and blob store. Every failure is reported.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New returns.
type service struct {
	config Config
	router *gin.Engine

	metrics           *observability.RAGMetrics
	telemetryShutdown func(context.Context) error

	index     *retrieval.Client
	blobs     blobstore.Store
	sessions  *conversation.Registry
	scheduler ttl.Scheduler
	ingest    *services.IngestService
	documents *services.DocumentService
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry and Prometheus metrics
//  3. Connects the search index, falling back to memory without Weaviate
//  4. Creates the blob store, embedding client, and LLM client
//  5. Builds the answer, ingest, and document services
//  6. Starts the idle-session scheduler
//  7. Sets up HTTP routes
//
// On any failure the components created so far are closed.
//
// # Inputs
//
//   - ctx: Used for backend setup (schema checks, GCS client).
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if a required backend cannot be configured
func New(ctx context.Context, cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	shutdown, err := observability.Init(ctx, observability.TelemetryConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		TraceExporter:  s.config.traceExporter(),
		MetricExporter: s.config.MetricsExporter,
		OTLPEndpoint:   s.config.OTelEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown
	s.metrics = observability.InitMetrics()

	s.index = retrieval.NewClient(s.initIndex(ctx), retrieval.Config{
		DefaultTopK: s.config.Retrieval.TopK,
		HybridAlpha: s.config.Retrieval.HybridAlpha,
	})

	blobs, err := s.initBlobStore(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	s.blobs = blobs

	embedder, err := s.initEmbeddings()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}

	completer, err := s.initLLMClient()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	assembler, err := prompt.NewAssembler(s.config.LLM.SystemPrompt)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var enricher enrichment.Enricher = enrichment.NopEnricher{}
	if s.config.Ingest.Enrich {
		enricher = enrichment.NewLLMEnricher(completer)
	}

	answers := services.NewAnswerService(embedder, s.index, completer, assembler, s.metrics,
		services.AnswerConfig{TopK: s.config.Retrieval.TopK, MaxTokens: s.config.LLM.MaxTokens})
	s.ingest = services.NewIngestService(s.blobs, embedder, s.index, enricher, s.metrics,
		services.IngestConfig{
			ChunkSize:    s.config.Ingest.ChunkSize,
			ChunkOverlap: s.config.Ingest.ChunkOverlap,
		})
	s.documents = services.NewDocumentService(s.blobs, s.index)

	s.sessions = conversation.NewRegistry(s.config.Sessions.MaxTurns)
	if err := s.initScheduler(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.initRouter(routes.Dependencies{
		Answerer:       answers,
		Ingester:       s.ingest,
		Documents:      s.documents,
		Sessions:       s.sessions,
		Metrics:        s.metrics,
		StatusChecks:   s.statusChecks(),
		MaxUploadBytes: s.config.Ingest.MaxUploadBytes,
	})

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down orchestrator server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *service) IngestFile(ctx context.Context, filename string, data []byte) (*services.IngestResult, error) {
	return s.ingest.Ingest(ctx, filename, data)
}

func (s *service) DeleteFile(ctx context.Context, filename string) error {
	_, err := s.documents.Delete(ctx, []string{filename})
	return err
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop session scheduler: %w", err))
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if s.blobs != nil {
		if err := s.blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close blob store: %w", err))
		}
	}
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initIndex connects to Weaviate when configured. Any failure falls back to
// the in-process index so the service still starts.
func (s *service) initIndex(ctx context.Context) retrieval.Index {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		slog.Info("Weaviate URL not configured, using the in-memory index")
		return retrieval.NewMemoryIndex()
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("Invalid Weaviate URL, using the in-memory index", "url", weaviateURL)
		return retrieval.NewMemoryIndex()
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Warn("Failed to create Weaviate client, using the in-memory index", "error", err)
		return retrieval.NewMemoryIndex()
	}

	index, err := retrieval.NewWeaviateIndex(ctx, client)
	if err != nil {
		slog.Warn("Weaviate initialization failed, using the in-memory index", "error", err)
		return retrieval.NewMemoryIndex()
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return index
}

func (s *service) initBlobStore(ctx context.Context) (blobstore.Store, error) {
	cfg := s.config.Blob
	switch cfg.Backend {
	case "memory":
		slog.Info("Using in-memory blob store")
		return blobstore.NewMemoryStore(), nil
	case "badger":
		slog.Info("Using Badger blob store", "dir", cfg.BadgerDir)
		store, err := blobstore.NewBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "gcs":
		slog.Info("Using GCS blob store", "bucket", cfg.Bucket, "prefix", cfg.Prefix)
		store, err := blobstore.NewGCSStore(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}

func (s *service) initEmbeddings() (*embeddings.Client, error) {
	cfg := s.config.Embedding

	var backend embeddings.Backend
	var err error
	switch cfg.Backend {
	case "http":
		backend, err = embeddings.NewHTTPBackend(cfg.URL, cfg.Model)
	case "openai", "azure":
		backend, err = embeddings.NewOpenAIBackend(embeddings.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.URL,
			Model:      cfg.Model,
			Azure:      cfg.Backend == "azure",
			APIVersion: cfg.APIVersion,
		})
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("Using embedding backend", "backend", cfg.Backend, "model", backend.Model())

	return embeddings.NewClient(backend,
		embeddings.NewLRUCache(cfg.CacheSize, cfg.CacheTTL),
		embeddings.Config{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}), nil
}

// initLLMClient creates the LLM backend named by the config and wraps it
// with the shared generation defaults.
func (s *service) initLLMClient() (*llm.Client, error) {
	cfg := s.config.LLM

	var backend llm.LLMClient
	var err error
	switch cfg.Backend {
	case "completions":
		backend, err = llm.NewCompletionsClient(cfg.URL, cfg.APIKey, cfg.Model)
		slog.Info("Using completions LLM backend")
	case "local":
		backend, err = llm.NewLocalLlamaCppClient(cfg.URL)
		slog.Info("Using Local Llama.cpp LLM backend")
	case "ollama":
		backend, err = llm.NewOllamaClient(cfg.URL, cfg.Model)
		slog.Info("Using Ollama LLM backend")
	case "openai":
		backend, err = llm.NewOpenAIClient(cfg.APIKey, cfg.URL, cfg.Model, cfg.SystemPrompt)
		slog.Info("Using OpenAI LLM backend")
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return llm.NewClient(backend, llm.ClientConfig{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stop:        cfg.StopTokens,
	}), nil
}

// initScheduler starts idle-session expiry unless IdleTTL is negative.
func (s *service) initScheduler(ctx context.Context) error {
	if s.config.Sessions.IdleTTL < 0 {
		slog.Info("Session expiry disabled")
		return nil
	}
	s.scheduler = ttl.NewScheduler(s.sessions, s.metrics, ttl.SchedulerConfig{
		Interval: s.config.Sessions.SweepInterval,
		IdleTTL:  s.config.Sessions.IdleTTL,
	})
	if err := s.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start session scheduler: %w", err)
	}
	slog.Info("Session expiry scheduler started",
		"interval", s.config.Sessions.SweepInterval.String(),
		"idle_ttl", s.config.Sessions.IdleTTL.String(),
	)
	return nil
}

// statusChecks probes the search index and the blob store.
func (s *service) statusChecks() []handlers.StatusCheck {
	return []handlers.StatusCheck{
		{Name: "index", Check: func(ctx context.Context) error {
			_, err := s.index.Count(ctx)
			return err
		}},
		{Name: "blob_store", Check: func(ctx context.Context) error {
			_, err := s.blobs.Exists(ctx, "status-probe")
			return err
		}},
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(deps routes.Dependencies) {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, deps)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
