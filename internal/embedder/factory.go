package embedder

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Supported embedding backend names.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendAzure  = "azure"
)

// Default output dimensions per backend, used when EMBEDDING_DIMENSIONS
// is not set. These match the default models below.
const (
	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
)

// Default model names per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOllamaHost  = "http://localhost:11434"
)

// ErrUnknownBackend indicates an unrecognized EMBEDDING_PROVIDER value.
var ErrUnknownBackend = errors.New("embedder: unknown backend")

// ErrMissingAPIKey indicates a backend that requires an API key was
// selected without one being configured.
var ErrMissingAPIKey = errors.New("embedder: missing API key")

// NewFromEnv builds an Embedder from environment variables:
//
//	EMBEDDING_PROVIDER    backend name (ollama, openai, azure); default ollama
//	EMBEDDING_MODEL       model name; per-backend default when unset
//	EMBEDDING_DIMENSIONS  output vector length; per-backend default when unset
//	EMBEDDING_ENDPOINT    base URL override (Ollama host or OpenAI-compatible base)
//	OPENAI_API_KEY        API key for openai and azure backends
func NewFromEnv() (Embedder, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER")))
	if backend == "" {
		backend = BackendOllama
	}

	switch backend {
	case BackendOllama:
		host := os.Getenv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = defaultOllamaHost
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      envOr("EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: dimensionsFromEnv(defaultOllamaDimensions),
		}), nil

	case BackendOpenAI, BackendAzure:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY for backend %q", ErrMissingAPIKey, backend)
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    os.Getenv("EMBEDDING_ENDPOINT"),
			APIKey:     apiKey,
			Model:      envOr("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dimensionsFromEnv(defaultOpenAIDimensions),
			Azure:      backend == BackendAzure,
		}), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// dimensionsFromEnv reads EMBEDDING_DIMENSIONS, falling back to def when
// unset or not a positive integer.
func dimensionsFromEnv(def int) int {
	raw := os.Getenv("EMBEDDING_DIMENSIONS")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
