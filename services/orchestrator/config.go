// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the document QA service.
// Sources are applied lowest to highest precedence: defaults, the YAML
// file given to LoadConfig, environment variables, then CLI flags set by
// the caller.
//
// # Examples
//
//	# config.yaml
//	port: 12210
//	weaviate_url: http://weaviate:8080
//	embedding:
//	  backend: http
//	  url: http://embedding-server:8000
//	llm:
//	  backend: ollama
//	  url: http://ollama:11434
//	  model: llama3
//	blob:
//	  backend: badger
//	  badger_dir: ./data/blobs
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `yaml:"port"`

	// GinMode sets the Gin framework mode: "debug", "release", "test".
	// Default: GIN_MODE env var or "release".
	GinMode string `yaml:"gin_mode"`

	// WeaviateURL is the Weaviate vector database URL.
	// Empty selects the in-process memory index.
	WeaviateURL string `yaml:"weaviate_url"`

	// OTelEndpoint is the OTLP gRPC collector, "stdout" to print spans, or
	// "none" to disable tracing.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string `yaml:"otel_endpoint"`

	// MetricsExporter feeds OTel instruments to "prometheus" (served at
	// /metrics), "stdout", or "none". Default: "prometheus"
	MetricsExporter string `yaml:"metrics_exporter"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Blob      BlobConfig      `yaml:"blob"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Backend is "http", "openai", or "azure". Default: "http"
	Backend string `yaml:"backend"`
	// URL is the embedding service (http) or API base / Azure endpoint.
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	APIVersion string `yaml:"api_version"`

	// CacheSize is the LRU capacity. Default: 100
	CacheSize int `yaml:"cache_size"`
	// CacheTTL bounds cached vector age. Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// RequestsPerSecond caps backend calls. 0 disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LLMConfig selects and tunes the language model backend.
type LLMConfig struct {
	// Backend is "completions", "local", "ollama", or "openai".
	// Default: "completions"
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// MaxTokens per answer. Default: 2000
	MaxTokens int `yaml:"max_tokens"`
	// Temperature; nil leaves the backend default.
	Temperature *float32 `yaml:"temperature"`
	// StopTokens; empty selects the Llama 3 end-of-turn markers.
	StopTokens []string `yaml:"stop_tokens"`
	// SystemPrompt is placed ahead of every prompt when set.
	SystemPrompt string `yaml:"system_prompt"`
}

// BlobConfig selects where uploaded originals are kept.
type BlobConfig struct {
	// Backend is "memory", "badger", or "gcs". Default: "memory"
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	// BadgerDir is the Badger data directory. Empty runs Badger in memory.
	BadgerDir string `yaml:"badger_dir"`
}

// SessionConfig bounds conversation state.
type SessionConfig struct {
	// MaxTurns caps each session's memory. 0 = unbounded. Default: 20
	MaxTurns int `yaml:"max_turns"`
	// IdleTTL expires sessions unused for this long. Negative disables
	// expiry. Default: 30m
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// SweepInterval is how often idle sessions are swept. Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	// TopK results per query. Default: 5
	TopK int `yaml:"top_k"`
	// HybridAlpha weights vector against lexical ranking. Default: 0.5
	HybridAlpha float32 `yaml:"hybrid_alpha"`
}

// IngestConfig tunes the upload pipeline.
type IngestConfig struct {
	// ChunkSize in characters. Default: 1000
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap in characters. Default: 100
	ChunkOverlap int `yaml:"chunk_overlap"`
	// Enrich annotates chunks with the LLM (summary, key phrases, language).
	Enrich bool `yaml:"enrich"`
	// MaxUploadBytes caps uploaded files. Default: 10 MiB
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// =============================================================================
// Loading
// =============================================================================

// LoadConfig reads the YAML file at path (skipped when empty) and applies
// environment overrides. Defaults are applied later by New.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT, GIN_MODE
//   - WEAVIATE_SERVICE_URL, OTEL_EXPORTER_OTLP_ENDPOINT, METRICS_EXPORTER
//   - EMBEDDING_BACKEND, EMBEDDING_SERVICE_URL, EMBEDDING_API_KEY, EMBEDDING_MODEL
//   - LLM_BACKEND_TYPE, LLM_SERVICE_URL, LLM_API_KEY, LLM_MODEL
//   - BLOB_BACKEND, GCS_BUCKET, GOOGLE_APPLICATION_CREDENTIALS, BADGER_DIR
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return applyEnvOverrides(cfg, os.Getenv), nil
}

// applyEnvOverrides overwrites cfg fields whose environment variable is set.
func applyEnvOverrides(cfg Config, getenv func(string) string) Config {
	str := func(key string, dst *string) {
		if v := strings.Trim(getenv(key), "\"' "); v != "" {
			*dst = v
		}
	}

	if v := getenv("ORCHESTRATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	str("GIN_MODE", &cfg.GinMode)
	str("WEAVIATE_SERVICE_URL", &cfg.WeaviateURL)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTelEndpoint)
	str("METRICS_EXPORTER", &cfg.MetricsExporter)

	str("EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	str("EMBEDDING_SERVICE_URL", &cfg.Embedding.URL)
	str("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)

	str("LLM_BACKEND_TYPE", &cfg.LLM.Backend)
	str("LLM_SERVICE_URL", &cfg.LLM.URL)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	str("LLM_MODEL", &cfg.LLM.Model)

	str("BLOB_BACKEND", &cfg.Blob.Backend)
	str("GCS_BUCKET", &cfg.Blob.Bucket)
	str("GOOGLE_APPLICATION_CREDENTIALS", &cfg.Blob.CredentialsFile)
	str("BADGER_DIR", &cfg.Blob.BadgerDir)
	return cfg
}

// applyConfigDefaults fills in missing configuration values.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.MetricsExporter == "" {
		cfg.MetricsExporter = "prometheus"
	}

	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "http"
	}
	if cfg.Embedding.CacheSize <= 0 {
		cfg.Embedding.CacheSize = 100
	}
	if cfg.Embedding.CacheTTL <= 0 {
		cfg.Embedding.CacheTTL = 5 * time.Minute
	}

	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = "completions"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 2000
	}

	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "memory"
	}

	if cfg.Sessions.MaxTurns == 0 {
		cfg.Sessions.MaxTurns = 20
	}
	if cfg.Sessions.IdleTTL == 0 {
		cfg.Sessions.IdleTTL = 30 * time.Minute
	}
	if cfg.Sessions.SweepInterval <= 0 {
		cfg.Sessions.SweepInterval = time.Minute
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.HybridAlpha <= 0 {
		cfg.Retrieval.HybridAlpha = 0.5
	}

	if cfg.Ingest.ChunkSize <= 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 100
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		cfg.Ingest.MaxUploadBytes = 10 << 20
	}
	return cfg
}

// traceExporter maps OTelEndpoint onto a telemetry exporter name.
func (c Config) traceExporter() string {
	switch c.OTelEndpoint {
	case "none", "stdout":
		return c.OTelEndpoint
	}
	return "otlp"
}
