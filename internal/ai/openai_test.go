package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// newEmbeddingServer answers /embeddings with one vector per input whose
// first element is the input index. Data is returned in reverse order to
// exercise index-based placement.
func newEmbeddingServer(t *testing.T, requests *[]embeddingRequest, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad json"}}`))
			return
		}
		mu.Lock()
		*requests = append(*requests, req)
		mu.Unlock()

		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]datum, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, datum{Object: "embedding", Index: i, Embedding: []float64{float64(i), 0.5}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name          string
		config        *ClientConfig
		expectedModel string
		expectedDim   int
	}{
		{"defaults", &ClientConfig{APIKey: "sk-test"}, "text-embedding-3-small", 1536},
		{"large model", &ClientConfig{APIKey: "sk-test", EmbedModel: "text-embedding-3-large"}, "text-embedding-3-large", 3072},
		{"explicit dim", &ClientConfig{APIKey: "sk-test", Dim: 384}, "text-embedding-3-small", 384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenAIClient(tt.config)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if c.config.EmbedModel != tt.expectedModel {
				t.Errorf("Expected model %q, got %q", tt.expectedModel, c.config.EmbedModel)
			}
			if c.Dim() != tt.expectedDim {
				t.Errorf("Expected dim %d, got %d", tt.expectedDim, c.Dim())
			}
		})
	}

	if _, err := NewOpenAIClient(&ClientConfig{}); err == nil {
		t.Error("Expected error without API key")
	}
}

func TestOpenAIClient_EmbedTexts(t *testing.T) {
	var mu sync.Mutex
	var requests []embeddingRequest
	srv := newEmbeddingServer(t, &requests, &mu)
	defer srv.Close()

	c, err := NewOpenAIClient(&ClientConfig{APIKey: "sk-test", BaseURL: srv.URL, Dim: 2})
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := c.EmbedTexts(context.Background(), []string{"zero", "one", "two"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := [][]float32{{0, 0.5}, {1, 0.5}, {2, 0.5}}
	if !reflect.DeepEqual(vecs, want) {
		t.Errorf("Expected %v, got %v", want, vecs)
	}
	if len(requests) != 1 || requests[0].Dimensions != 2 || requests[0].Model != "text-embedding-3-small" {
		t.Errorf("unexpected requests %+v", requests)
	}
}

func TestOpenAIClient_BatchesLargeInputs(t *testing.T) {
	var mu sync.Mutex
	var requests []embeddingRequest
	srv := newEmbeddingServer(t, &requests, &mu)
	defer srv.Close()

	c, err := NewOpenAIClient(&ClientConfig{APIKey: "sk-test", BaseURL: srv.URL, Dim: 2})
	if err != nil {
		t.Fatal(err)
	}
	texts := make([]string, maxOpenAIBatch+5)
	for i := range texts {
		texts[i] = "t"
	}
	vecs, err := c.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("Expected %d vectors, got %d", len(texts), len(vecs))
	}
	if len(requests) != 2 || len(requests[0].Input) != maxOpenAIBatch || len(requests[1].Input) != 5 {
		t.Errorf("Expected batches of %d and 5, got %d requests", maxOpenAIBatch, len(requests))
	}
	// second batch restarts its indices
	if vecs[maxOpenAIBatch][0] != 0 {
		t.Errorf("Expected second batch to be placed after the first, got %v", vecs[maxOpenAIBatch])
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	var mu sync.Mutex
	var requests []embeddingRequest
	srv := newEmbeddingServer(t, &requests, &mu)
	defer srv.Close()

	c, err := NewOpenAIClient(&ClientConfig{APIKey: "sk-wrong", BaseURL: srv.URL, Dim: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.EmbedTexts(context.Background(), []string{"x"}); err == nil || !strings.Contains(err.Error(), "openai embedding") {
		t.Errorf("Expected wrapped API error, got %v", err)
	}
}
