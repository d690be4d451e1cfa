// Package config provides YAML-based configuration for devhelper.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DEVHELPER_CONFIG environment variable
//  3. ~/.devhelper/config.yaml
//  4. ./devhelper.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model used by the generation stage.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures the vector index and metadata store.
	Index IndexConfig `yaml:"index"`

	// Redis configures the message bus connection.
	Redis RedisConfig `yaml:"redis"`

	// Pipeline configures the request/response correlation protocol.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Server configures the HTTP gateway.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures question history persistence.
	History HistoryConfig `yaml:"history"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// IndexConfig holds vector index and metadata store settings.
type IndexConfig struct {
	// Path is the persisted index file path.
	Path string `yaml:"path"`
	// MetaPath is the metadata JSON file path.
	MetaPath string `yaml:"meta_path"`
	// K is the default number of contexts returned per search.
	K int `yaml:"k"`
	// Ef bounds query-time candidate exploration.
	Ef int `yaml:"ef"`
	// EfConstruction bounds build-time candidate exploration.
	EfConstruction int `yaml:"ef_construction"`
	// M bounds graph links per node.
	M int `yaml:"m"`
}

// RedisConfig holds message bus connection settings.
type RedisConfig struct {
	// Host is the Redis hostname. Empty enables host fallback probing.
	Host string `yaml:"host"`
	// Port is the Redis port.
	Port int `yaml:"port"`
	// DB is the logical Redis database number.
	DB int `yaml:"db"`
	// Password is the Redis AUTH password. Prefer env var REDIS_PASSWORD.
	Password string `yaml:"password"`
}

// PipelineConfig holds correlation protocol settings.
type PipelineConfig struct {
	// ResponseTTLSeconds bounds the lifetime of response records.
	ResponseTTLSeconds int `yaml:"response_ttl_seconds"`
	// RequestTTLSeconds bounds the lifetime of request bookkeeping records.
	RequestTTLSeconds int `yaml:"request_ttl_seconds"`
	// PollIntervalSeconds is the sleep between response polls.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// MaxPollAttempts bounds the originator's wait loop.
	MaxPollAttempts int `yaml:"max_poll_attempts"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DEVHELPER_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds question history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"INDEX_PATH", func(c *Config) string { return c.Index.Path }},
	{"META_PATH", func(c *Config) string { return c.Index.MetaPath }},
	{"RETRIEVAL_K", func(c *Config) string { return intStr(c.Index.K) }},
	{"RETRIEVAL_EF", func(c *Config) string { return intStr(c.Index.Ef) }},
	{"INDEX_EF_CONSTRUCTION", func(c *Config) string { return intStr(c.Index.EfConstruction) }},
	{"INDEX_M", func(c *Config) string { return intStr(c.Index.M) }},
	{"REDIS_HOST", func(c *Config) string { return c.Redis.Host }},
	{"REDIS_PORT", func(c *Config) string { return intStr(c.Redis.Port) }},
	{"REDIS_DB", func(c *Config) string { return intStr(c.Redis.DB) }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Redis.Password }},
	{"RESPONSE_TTL_SECONDS", func(c *Config) string { return intStr(c.Pipeline.ResponseTTLSeconds) }},
	{"REQUEST_TTL_SECONDS", func(c *Config) string { return intStr(c.Pipeline.RequestTTLSeconds) }},
	{"POLL_INTERVAL_SECONDS", func(c *Config) string { return intStr(c.Pipeline.PollIntervalSeconds) }},
	{"MAX_POLL_ATTEMPTS", func(c *Config) string { return intStr(c.Pipeline.MaxPollAttempts) }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DEVHELPER_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"DEVHELPER_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DEVHELPER_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".devhelper", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("devhelper.yaml"); err == nil {
		return "devhelper.yaml"
	}

	return ""
}

// EnvStr returns the value of the named environment variable, or
// fallback when unset or empty.
func EnvStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvInt returns the integer value of the named environment variable,
// or fallback when unset, empty, or not parseable.
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return fallback
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
