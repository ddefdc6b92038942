// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the orchestrator's explicit runtime configuration.
//
// The configuration is constructed exactly once in main and threaded through
// constructors. Nothing in this service mutates ambient process-wide HTTP or
// network state; the shared HTTP client lives here and is injected into every
// component that issues upstream requests.
//
// Precedence: built-in defaults, then an optional YAML file (GEOSCOPE_CONFIG),
// then environment variables.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Config Types
// =============================================================================

// StreamConfig tunes the SSE proxy.
type StreamConfig struct {
	// HeartbeatInterval is how often synthetic keep-alive events are injected
	// into an idle stream.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// RequestTimeout bounds one upstream streaming request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BufferSize is the proxied event channel capacity.
	BufferSize int `yaml:"buffer_size"`
}

// LLMConfig points at the OpenAI-compatible endpoint used for session
// summaries and embeddings.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Config is the orchestrator's full runtime configuration.
type Config struct {
	// Port the gin server listens on.
	Port string `yaml:"port"`

	// BackendURL is the inference backend base URL (SSE agent).
	BackendURL string `yaml:"backend_url"`

	// InspectorURL is the content inspector service base URL.
	InspectorURL string `yaml:"inspector_url"`

	// RefineURL is the LLM profile refinement endpoint.
	RefineURL string `yaml:"refine_url"`

	// WeaviateURL is the document store URL. Empty runs in lightweight mode
	// (streaming without persistence).
	WeaviateURL string `yaml:"weaviate_url"`

	// OTELEndpoint is the OTLP gRPC collector address.
	OTELEndpoint string `yaml:"otel_endpoint"`

	// UploadDir is where the out-of-scope upload handler drops files.
	UploadDir string `yaml:"upload_dir"`

	Stream StreamConfig `yaml:"stream"`
	LLM    LLMConfig    `yaml:"llm"`

	httpClient *http.Client
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the configuration from defaults, the optional YAML file named
// by GEOSCOPE_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         "12300",
		BackendURL:   "http://localhost:8000",
		InspectorURL: "http://localhost:8100",
		RefineURL:    "http://localhost:8000/api/agents/data-refine",
		UploadDir:    "/tmp/geoscope-uploads",
		Stream: StreamConfig{
			HeartbeatInterval: 20 * time.Second,
			RequestTimeout:    5 * time.Minute,
			BufferSize:        64,
		},
		LLM: LLMConfig{
			Model: "qwen2.5:14b",
		},
	}

	if path := os.Getenv("GEOSCOPE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.httpClient = &http.Client{
		Timeout: cfg.Stream.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Port, "ORCHESTRATOR_PORT")
	setString(&c.BackendURL, "AGENT_SERVICE_URL")
	setString(&c.InspectorURL, "INSPECTOR_SERVICE_URL")
	setString(&c.RefineURL, "REFINE_SERVICE_URL")
	setString(&c.WeaviateURL, "WEAVIATE_SERVICE_URL")
	setString(&c.OTELEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.UploadDir, "UPLOAD_DIR")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL_NAME")

	if v := os.Getenv("STREAM_HEARTBEAT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Stream.HeartbeatInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("STREAM_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Stream.BufferSize = n
		}
	}
}

func setString(dst *string, env string) {
	// Trim quotes and whitespace in case the container runtime passes them
	// through literally.
	if v := strings.Trim(os.Getenv(env), "\"' "); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port must not be empty")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("config: backend URL must not be empty")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat interval must be positive")
	}
	if c.Stream.BufferSize <= 0 {
		return fmt.Errorf("config: stream buffer size must be positive")
	}
	return nil
}

// HTTPClient returns the shared upstream HTTP client. The client is built
// once in Load; components receive it by injection, never via package-level
// state.
func (c *Config) HTTPClient() *http.Client {
	if c.httpClient == nil {
		// Covers configurations assembled by hand in tests.
		c.httpClient = &http.Client{Timeout: c.Stream.RequestTimeout}
	}
	return c.httpClient
}
