package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/reservoir-ai/reservoir/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.Server.Port != 3017 {
		t.Errorf("port = %d, want 3017", cfg.Server.Port)
	}
	if cfg.Neo4j.URI != "bolt://localhost:7687" {
		t.Errorf("neo4j uri = %q", cfg.Neo4j.URI)
	}
	if got := cfg.Enrichment.SynapseThreshold; got != 0.85 {
		t.Errorf("synapse threshold = %g, want 0.85", got)
	}
	if got := cfg.Upstreams.Timeout.Std(); got != 120*time.Second {
		t.Errorf("upstream timeout = %v, want 120s", got)
	}
}

func TestLoadFromReaderOverridesDefaults(t *testing.T) {
	yaml := `
server:
  port: 8080
  log_level: debug
neo4j:
  uri: bolt://graph:7687
  query_timeout: 2s
enrichment:
  similar_limit: 7
  recent_limit: 15
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Neo4j.URI != "bolt://graph:7687" {
		t.Errorf("neo4j uri = %q", cfg.Neo4j.URI)
	}
	if got := cfg.Neo4j.QueryTimeout.Std(); got != 2*time.Second {
		t.Errorf("query timeout = %v, want 2s", got)
	}
	if cfg.Enrichment.SimilarLimit != 7 || cfg.Enrichment.RecentLimit != 15 {
		t.Errorf("enrichment limits = %d/%d, want 7/15", cfg.Enrichment.SimilarLimit, cfg.Enrichment.RecentLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Upstreams.OpenAIBaseURL != "https://api.openai.com/v1" {
		t.Errorf("openai base url lost its default: %q", cfg.Upstreams.OpenAIBaseURL)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := `
server:
  port: 8080
  listen_addres: oops
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReaderRejectsBadDuration(t *testing.T) {
	yaml := `
embeddings:
  timeout: fifteen
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv(config.EnvPort, "4242")
	t.Setenv(config.EnvNeo4jURI, "bolt://env:7687")
	t.Setenv(config.EnvNeo4jUser, "svc")
	t.Setenv(config.EnvNeo4jPassword, "secret")
	t.Setenv(config.EnvOpenAIBaseURL, "https://proxy.example/v1")
	t.Setenv(config.EnvMaxTokens, "1000")
	t.Setenv(config.EnvOpenAIKey, "sk-test")

	cfg, err := config.LoadFromReader(strings.NewReader(`
server:
  port: 8080
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4242 {
		t.Errorf("env port should win over file, got %d", cfg.Server.Port)
	}
	if cfg.Neo4j.URI != "bolt://env:7687" || cfg.Neo4j.Username != "svc" || cfg.Neo4j.Password != "secret" {
		t.Error("neo4j env overrides not applied")
	}
	if cfg.Upstreams.OpenAIBaseURL != "https://proxy.example/v1" {
		t.Errorf("openai base url = %q", cfg.Upstreams.OpenAIBaseURL)
	}
	if cfg.Limits.MaxTokens != 1000 {
		t.Errorf("max tokens = %d, want 1000", cfg.Limits.MaxTokens)
	}
	if cfg.Upstreams.APIKey != "sk-test" || cfg.Embeddings.APIKey != "sk-test" {
		t.Error("OPENAI_API_KEY fallback not applied")
	}
}

func TestValidateFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = -1
	cfg.Embeddings.Provider = "fastembed"
	cfg.Enrichment.SynapseThreshold = 1.5
	cfg.Enrichment.SimilarityThreshold = -0.2

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"server.port", "embeddings.provider", "synapse_threshold", "similarity_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/reservoir.yaml")
	if err != nil {
		t.Fatalf("missing file should not be an error, got: %v", err)
	}
	if cfg.Server.Port != 3017 {
		t.Errorf("port = %d, want default 3017", cfg.Server.Port)
	}
}
