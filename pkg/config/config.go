// Package config defines the service configuration and its koanf-based
// loader. Sections carry their own defaults and validation so the
// orchestrator can fail fast on a bad deployment instead of guessing.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the loremaster service.
type Config struct {
	Env     string `yaml:"env" json:"env"`
	Release string `yaml:"release" json:"release"`

	Server        ServerConfig         `yaml:"server" json:"server"`
	Assistant     AssistantConfig      `yaml:"assistant" json:"assistant"`
	LLM           LLMConfig            `yaml:"llm" json:"llm"`
	Embedder      EmbedderConfig       `yaml:"embedder" json:"embedder"`
	Vector        VectorConfig         `yaml:"vector" json:"vector"`
	Graph         GraphConfig          `yaml:"graph" json:"graph"`
	Metadata      MetadataConfig       `yaml:"metadata" json:"metadata"`
	Prompts       PromptRegistryConfig `yaml:"prompts" json:"prompts"`
	Cache         CacheConfig          `yaml:"cache" json:"cache"`
	Observability ObservabilityConfig  `yaml:"observability" json:"observability"`
	Logging       LoggingConfig        `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// AssistantConfig holds the per-request budgets and pipeline knobs.
type AssistantConfig struct {
	OverallTimeout time.Duration `yaml:"overall_timeout" json:"overall_timeout"`
	MaxQueryLength int           `yaml:"max_query_length" json:"max_query_length"`
	VectorKDefault int           `yaml:"vector_k_default" json:"vector_k_default"`
	VectorKMax     int           `yaml:"vector_k_max" json:"vector_k_max"`

	PlanningModel  string `yaml:"planning_model" json:"planning_model"`
	CypherModel    string `yaml:"cypher_model" json:"cypher_model"`
	SynthesisModel string `yaml:"synthesis_model" json:"synthesis_model"`
}

// LLMConfig configures the chat-completion client.
type LLMConfig struct {
	Host       string        `yaml:"host" json:"host"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`

	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// EmbedderConfig configures the embedding client. Dimension must match
// the campaign collections exactly; a mismatch is a startup error.
type EmbedderConfig struct {
	Host       string        `yaml:"host" json:"host"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Dimension  int           `yaml:"dimension" json:"dimension"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Provider string `yaml:"provider" json:"provider"` // qdrant or chromem

	Qdrant QdrantConfig `yaml:"qdrant" json:"qdrant"`

	// ChromemPath is the on-disk path for the embedded chromem store
	// (dev deployments only; empty means in-memory).
	ChromemPath string `yaml:"chromem_path" json:"chromem_path"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key" json:"api_key"`
	UseTLS bool   `yaml:"use_tls" json:"use_tls"`
}

// GraphConfig configures the Neo4j connection used by the read path.
type GraphConfig struct {
	URI      string        `yaml:"uri" json:"uri"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"password" json:"password"`
	Database string        `yaml:"database" json:"database"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// MetadataConfig configures the Postgres campaign registry.
type MetadataConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// PromptRegistryConfig configures the versioned prompt registry client.
type PromptRegistryConfig struct {
	Host      string        `yaml:"host" json:"host"`
	PublicKey string        `yaml:"public_key" json:"public_key"`
	SecretKey string        `yaml:"secret_key" json:"secret_key"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	EndpointURL  string  `yaml:"endpoint_url" json:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	Metrics      bool    `yaml:"metrics" json:"metrics"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

func (c *Config) SetDefaults() {
	if c.Env == "" {
		c.Env = "production"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Assistant.OverallTimeout == 0 {
		c.Assistant.OverallTimeout = 60 * time.Second
	}
	if c.Assistant.MaxQueryLength == 0 {
		c.Assistant.MaxQueryLength = 500
	}
	if c.Assistant.VectorKDefault == 0 {
		c.Assistant.VectorKDefault = 5
	}
	if c.Assistant.VectorKMax == 0 {
		c.Assistant.VectorKMax = 50
	}
	if c.Assistant.PlanningModel == "" {
		c.Assistant.PlanningModel = "gpt-4o"
	}
	if c.Assistant.CypherModel == "" {
		c.Assistant.CypherModel = "gpt-4o-mini"
	}
	if c.Assistant.SynthesisModel == "" {
		c.Assistant.SynthesisModel = "gpt-4o"
	}

	if c.LLM.Host == "" {
		c.LLM.Host = "https://api.openai.com/v1"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}
	if c.LLM.RetryDelay == 0 {
		c.LLM.RetryDelay = time.Second
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}

	if c.Embedder.Host == "" {
		c.Embedder.Host = "https://api.openai.com/v1"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 1536
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30 * time.Second
	}
	if c.Embedder.MaxRetries == 0 {
		c.Embedder.MaxRetries = 3
	}

	if c.Vector.Provider == "" {
		c.Vector.Provider = "qdrant"
	}
	if c.Vector.Qdrant.Host == "" {
		c.Vector.Qdrant.Host = "localhost"
	}
	if c.Vector.Qdrant.Port == 0 {
		c.Vector.Qdrant.Port = 6334
	}

	if c.Graph.URI == "" {
		c.Graph.URI = "bolt://localhost:7687"
	}
	if c.Graph.Database == "" {
		c.Graph.Database = "neo4j"
	}
	if c.Graph.Timeout == 0 {
		c.Graph.Timeout = 30 * time.Second
	}

	if c.Metadata.MaxOpenConns == 0 {
		c.Metadata.MaxOpenConns = 10
	}
	if c.Metadata.MaxIdleConns == 0 {
		c.Metadata.MaxIdleConns = 5
	}
	if c.Metadata.ConnMaxLifetime == 0 {
		c.Metadata.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Prompts.CacheTTL == 0 {
		c.Prompts.CacheTTL = time.Minute
	}
	if c.Prompts.Timeout == 0 {
		c.Prompts.Timeout = 10 * time.Second
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}

	if c.Observability.SamplingRate == 0 {
		c.Observability.SamplingRate = 1.0
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "loremaster"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "compact"
	}
}

func (c *Config) Validate() error {
	if c.Assistant.MaxQueryLength <= 0 {
		return fmt.Errorf("assistant.max_query_length must be positive")
	}
	if c.Assistant.VectorKDefault < 1 || c.Assistant.VectorKDefault > c.Assistant.VectorKMax {
		return fmt.Errorf("assistant.vector_k_default must be in [1, %d]", c.Assistant.VectorKMax)
	}
	if c.Embedder.Dimension != 1536 && c.Embedder.Dimension != 3072 {
		return fmt.Errorf("embedder.dimension must be 1536 or 3072, got %d", c.Embedder.Dimension)
	}
	switch c.Vector.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("vector.provider must be qdrant or chromem, got %q", c.Vector.Provider)
	}
	if c.Metadata.DSN == "" {
		return fmt.Errorf("metadata.dsn is required")
	}
	if c.Prompts.Host == "" {
		return fmt.Errorf("prompts.host is required")
	}
	if c.Observability.Enabled && c.Observability.EndpointURL == "" {
		return fmt.Errorf("observability.endpoint_url is required when tracing is enabled")
	}
	return nil
}

// IsProduction reports whether debug info must be withheld from responses.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
