package routeindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOllamaEmbedderDefaults(t *testing.T) {
	e := NewOllamaEmbedder(OllamaEmbedderConfig{})
	if e.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q, want default", e.baseURL)
	}
	if e.model != "nomic-embed-text" {
		t.Errorf("model = %q, want default", e.model)
	}
	if e.Dimension() != 768 {
		t.Errorf("Dimension() = %d, want 768", e.Dimension())
	}
}

func TestOllamaEmbedderDimensionByModel(t *testing.T) {
	cases := map[string]int{
		"nomic-embed-text": 768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		"unknown-model":     768,
	}
	for model, want := range cases {
		e := NewOllamaEmbedder(OllamaEmbedderConfig{Model: model})
		if got := e.Dimension(); got != want {
			t.Errorf("model %q: Dimension() = %d, want %d", model, got, want)
		}
	}
}

func TestOllamaEmbedderEmbedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s, want /api/embeddings", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{float32(len(req.Prompt))}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaEmbedderConfig{BaseURL: server.URL})
	vecs, err := e.Embed(context.Background(), []string{"hi", "hello"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 2 || vecs[1][0] != 5 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
}

func TestOllamaEmbedderEmbedAbortsOnFirstFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaEmbedderConfig{BaseURL: server.URL})
	_, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error when one embed call fails")
	}
}
