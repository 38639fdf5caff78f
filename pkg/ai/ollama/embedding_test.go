package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestFitDimensions(t *testing.T) {
	if got := fitDimensions([]float32{1, 2, 3}, 2); !reflect.DeepEqual(got, []float32{1, 2}) {
		t.Fatalf("expected [1 2], got %v", got)
	}
	if got := fitDimensions([]float32{1}, 3); !reflect.DeepEqual(got, []float32{1, 0, 0}) {
		t.Fatalf("expected [1 0 0], got %v", got)
	}
}

func TestBlankInputsSkipTheServer(t *testing.T) {
	c, err := NewEmbeddingClient(NewEmbeddingClientParams{Model: "nomic-embed-text", Dimensions: 3, BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got, err := c.GenerateEmbedding(context.Background(), []byte("   "))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !reflect.DeepEqual(got, []float32{0, 0, 0}) {
		t.Fatalf("expected a zero vector, got %v", got)
	}
}

func TestGenerateEmbeddingsAgainstServer(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		embeddings := make([][]float32, len(req.Input))
		for i, in := range req.Input {
			embeddings[i] = []float32{float32(len(in)), 1, 1, 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "m",
			"embeddings":        embeddings,
			"prompt_eval_count": 6,
			"total_duration":    2_000_000,
		})
	}))
	defer srv.Close()

	c, err := NewEmbeddingClient(NewEmbeddingClientParams{Model: "m", Dimensions: 3, BaseURL: srv.URL, ApiKey: "secret"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte("ab"), []byte(""), []byte("abcd")})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := [][]float32{{2, 1, 1}, {0, 0, 0}, {4, 1, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
	if m := c.GetMetrics(); m.InputTokens != 6 || m.DurationMs != 2 {
		t.Fatalf("expected 6 tokens over 2ms, got %+v", m)
	}
}
