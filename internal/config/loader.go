package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by [ApplyEnv].
const (
	EnvPort          = "RESERVOIR_PORT"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvNeo4jURI      = "NEO4J_URI"
	EnvNeo4jUser     = "NEO4J_USER"
	EnvNeo4jPassword = "NEO4J_PASSWORD"
	EnvOpenAIBaseURL = "RSV_OPENAI_BASE_URL"
	EnvOllamaBaseURL = "RSV_OLLAMA_BASE_URL"
	EnvMaxTokens     = "MAX_TOKENS"
)

// Default returns the built-in configuration: all values a fresh install
// needs to run against a local Neo4j and Ollama, with OpenAI selected for
// gpt-* models when OPENAI_API_KEY is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     3017,
			LogLevel: LogInfo,
		},
		Neo4j: Neo4jConfig{
			URI:          "bolt://localhost:7687",
			Username:     "neo4j",
			Password:     "password",
			QueryTimeout: Duration(5 * time.Second),
			MaxPoolSize:  25,
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			Dimensions:  1536,
			Timeout:     Duration(15 * time.Second),
			MaxAttempts: 3,
		},
		Upstreams: UpstreamsConfig{
			OpenAIBaseURL: "https://api.openai.com/v1",
			OllamaBaseURL: "http://localhost:11434/v1",
			Default:       UpstreamOllama,
			Timeout:       Duration(120 * time.Second),
			MaxInFlight:   64,
		},
		Enrichment: EnrichmentConfig{
			SimilarLimit:        5,
			RecentLimit:         5,
			SimilarityThreshold: 0.85,
			SynapseThreshold:    0.85,
			SynapseTopK:         5,
			ThreadHops:          10,
		},
		Limits: LimitsConfig{},
	}
}

// Load reads the YAML configuration file at path (when it exists), overlays
// environment variables, and returns a validated [Config]. A missing file is
// not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			ApplyEnv(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults, overlays
// environment variables, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays recognised environment variables onto cfg. Environment
// values win over file values.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvNeo4jURI); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv(EnvNeo4jUser); v != "" {
		cfg.Neo4j.Username = v
	}
	if v := os.Getenv(EnvNeo4jPassword); v != "" {
		cfg.Neo4j.Password = v
	}
	if v := os.Getenv(EnvOpenAIBaseURL); v != "" {
		cfg.Upstreams.OpenAIBaseURL = v
	}
	if v := os.Getenv(EnvOllamaBaseURL); v != "" {
		cfg.Upstreams.OllamaBaseURL = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		if cfg.Upstreams.APIKey == "" {
			cfg.Upstreams.APIKey = v
		}
		if cfg.Embeddings.APIKey == "" {
			cfg.Embeddings.APIKey = v
		}
	}
	if v := os.Getenv(EnvMaxTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxTokens = n
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: server.log_level %q is not one of debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Neo4j.URI == "" {
		errs = append(errs, errors.New("config: neo4j.uri must not be empty"))
	}
	if cfg.Neo4j.MaxPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("config: neo4j.max_pool_size must be positive, got %d", cfg.Neo4j.MaxPoolSize))
	}
	switch cfg.Embeddings.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("config: embeddings.provider %q is not one of openai, ollama", cfg.Embeddings.Provider))
	}
	if cfg.Embeddings.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("config: embeddings.dimensions must be positive, got %d", cfg.Embeddings.Dimensions))
	}
	if cfg.Embeddings.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("config: embeddings.max_attempts must be positive, got %d", cfg.Embeddings.MaxAttempts))
	}
	if !cfg.Upstreams.Default.IsValid() {
		errs = append(errs, fmt.Errorf("config: upstreams.default %q is not one of openai, ollama", cfg.Upstreams.Default))
	}
	if cfg.Upstreams.OpenAIBaseURL == "" || cfg.Upstreams.OllamaBaseURL == "" {
		errs = append(errs, errors.New("config: upstream base URLs must not be empty"))
	}
	if cfg.Upstreams.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("config: upstreams.max_in_flight must be positive, got %d", cfg.Upstreams.MaxInFlight))
	}
	if t := cfg.Enrichment.SynapseThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("config: enrichment.synapse_threshold %g outside [0, 1]", t))
	}
	if t := cfg.Enrichment.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("config: enrichment.similarity_threshold %g outside [0, 1]", t))
	}
	if cfg.Enrichment.SimilarLimit < 0 || cfg.Enrichment.RecentLimit < 0 {
		errs = append(errs, errors.New("config: enrichment limits must not be negative"))
	}
	if cfg.Limits.MaxTokens < 0 || cfg.Limits.InputCeiling < 0 {
		errs = append(errs, errors.New("config: token limits must not be negative"))
	}

	return errors.Join(errs...)
}
