package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
  dimensions: 768
index:
  path: /var/lib/devhelper/index.bin
  meta_path: /var/lib/devhelper/metadata.json
  k: 3
  ef: 96
redis:
  host: redis.internal
  port: 6380
pipeline:
  response_ttl_seconds: 300
  max_poll_attempts: 30
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"INDEX_PATH", "META_PATH", "RETRIEVAL_K", "RETRIEVAL_EF",
		"REDIS_HOST", "REDIS_PORT",
		"RESPONSE_TTL_SECONDS", "MAX_POLL_ATTEMPTS",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"EMBEDDING_DIMENSIONS":     "768",
		"INDEX_PATH":               "/var/lib/devhelper/index.bin",
		"META_PATH":                "/var/lib/devhelper/metadata.json",
		"RETRIEVAL_K":              "3",
		"RETRIEVAL_EF":             "96",
		"REDIS_HOST":               "redis.internal",
		"REDIS_PORT":               "6380",
		"RESPONSE_TTL_SECONDS":     "300",
		"MAX_POLL_ATTEMPTS":        "30",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
redis:
  host: from-yaml
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("REDIS_HOST", "from-env")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("REDIS_HOST"); got != "from-env" {
		t.Errorf("REDIS_HOST: expected env override %q, got %q", "from-env", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("ENVINT_TEST", "42")
	if got := EnvInt("ENVINT_TEST", 7); got != 42 {
		t.Errorf("EnvInt set: got %d, want 42", got)
	}
	t.Setenv("ENVINT_TEST", "not-a-number")
	if got := EnvInt("ENVINT_TEST", 7); got != 7 {
		t.Errorf("EnvInt unparseable: got %d, want 7", got)
	}
	os.Unsetenv("ENVINT_TEST")
	if got := EnvInt("ENVINT_TEST", 7); got != 7 {
		t.Errorf("EnvInt unset: got %d, want 7", got)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
