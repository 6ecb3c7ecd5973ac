// Package config provides the configuration schema and loader for the
// Reservoir proxy.
//
// Configuration is loaded once at startup from an optional YAML file, then
// overridden by well-known environment variables ([ApplyEnv]). The resulting
// [Config] is immutable and threaded through component constructors; nothing
// reads configuration dynamically after startup.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Reservoir server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// UpstreamKind selects the wire-compatible upstream family a model is routed
// to. Both speak the OpenAI chat-completions shape; they differ only in base
// URL and credential handling.
type UpstreamKind string

const (
	UpstreamOpenAI UpstreamKind = "openai"
	UpstreamOllama UpstreamKind = "ollama"
)

// IsValid reports whether k is a recognised upstream kind.
func (k UpstreamKind) IsValid() bool {
	return k == UpstreamOpenAI || k == UpstreamOllama
}

// Duration wraps [time.Duration] with YAML decoding from strings like "15s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Reservoir.
// Obtain one via [Load] or [Default]; both apply environment overrides.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Neo4j      Neo4jConfig      `yaml:"neo4j"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Upstreams  UpstreamsConfig  `yaml:"upstreams"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Limits     LimitsConfig     `yaml:"limits"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the TCP port the proxy listens on. Overridden by RESERVOIR_PORT.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Neo4jConfig holds graph store connection settings.
type Neo4jConfig struct {
	// URI is the bolt URI of the Neo4j server. Overridden by NEO4J_URI.
	URI string `yaml:"uri"`

	// Username and Password authenticate against the server.
	// Overridden by NEO4J_USER / NEO4J_PASSWORD.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// QueryTimeout bounds every graph query.
	QueryTimeout Duration `yaml:"query_timeout"`

	// MaxPoolSize caps the bolt connection pool.
	MaxPoolSize int `yaml:"max_pool_size"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the implementation: "openai" or "ollama".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider (OpenAI only).
	// Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// Dimensions is the vector dimensionality; must match the Neo4j vector
	// index and the model output.
	Dimensions int `yaml:"dimensions"`

	// Timeout bounds a single embedding call.
	Timeout Duration `yaml:"timeout"`

	// MaxAttempts is the retry budget for transient embedding failures.
	MaxAttempts int `yaml:"max_attempts"`
}

// UpstreamsConfig holds the chat-completion upstream endpoints.
type UpstreamsConfig struct {
	// OpenAIBaseURL is the OpenAI API base URL including the /v1 segment.
	// Overridden by RSV_OPENAI_BASE_URL.
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// OllamaBaseURL is the Ollama OpenAI-compatible base URL including the
	// /v1 segment. Overridden by RSV_OLLAMA_BASE_URL.
	OllamaBaseURL string `yaml:"ollama_base_url"`

	// Default routes models not present in the model table.
	Default UpstreamKind `yaml:"default"`

	// APIKey is the fallback bearer token used when a client request carries
	// no Authorization header. Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// Timeout bounds the upstream round trip.
	Timeout Duration `yaml:"timeout"`

	// MaxInFlight caps concurrent requests per upstream base URL. Checkout
	// beyond the cap fails immediately rather than queueing.
	MaxInFlight int `yaml:"max_in_flight"`
}

// EnrichmentConfig tunes context retrieval and synapse maintenance.
type EnrichmentConfig struct {
	// SimilarLimit is the number of semantically similar messages injected.
	SimilarLimit int `yaml:"similar_limit"`

	// RecentLimit is the number of recent messages injected.
	RecentLimit int `yaml:"recent_limit"`

	// SimilarityThreshold is the minimum cosine similarity a stored message
	// must score against the inbound prompt to be injected.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// SynapseThreshold is the cosine similarity τ below which sequential
	// synapses are pruned and at or above which topical synapses are created.
	SynapseThreshold float64 `yaml:"synapse_threshold"`

	// SynapseTopK is the number of similarity candidates considered for
	// topical synapse creation.
	SynapseTopK int `yaml:"synapse_top_k"`

	// ThreadHops bounds RESPONDED_WITH/SYNAPSE traversal depth.
	ThreadHops int `yaml:"thread_hops"`
}

// LimitsConfig holds token budgets.
type LimitsConfig struct {
	// MaxTokens is the total budget the enriched prompt is truncated to.
	// Zero means model-dependent (the model table default applies).
	// Overridden by MAX_TOKENS.
	MaxTokens int `yaml:"max_tokens"`

	// InputCeiling is the hard cap on the final user message alone.
	// Zero derives the ceiling from the effective per-model budget.
	InputCeiling int `yaml:"input_ceiling"`
}
