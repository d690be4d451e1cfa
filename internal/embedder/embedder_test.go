package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_OllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{float32(i), 1, 2}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "test-model", Dimensions: 3})

	got, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(got))
	}
	if got[1][0] != 1 {
		t.Fatalf("embeddings out of order: %v", got)
	}
}

func Test_OllamaEmbedder_ServerErrorSurfaced(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing", Dimensions: 3})

	_, err := e.Embed(context.Background(), []string{"alpha"})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func Test_OpenAIEmbedder_SortsByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		// Items intentionally out of order.
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[1,1]},
			{"index":0,"embedding":[0,0]}
		]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "m", Dimensions: 2})

	got, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if got[0][0] != 0 || got[1][0] != 1 {
		t.Fatalf("embeddings not sorted by index: %v", got)
	}
}

func Test_OpenAIEmbedder_AzureHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "azure-key" {
			t.Errorf("unexpected api-key header %q", got)
		}
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "azure-key", Model: "m", Dimensions: 1, Azure: true})

	if _, err := e.Embed(context.Background(), []string{"q"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
}

func Test_EmbedOne_SingleVector(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 3})

	vec, err := EmbedOne(context.Background(), e, "hello")
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
}
