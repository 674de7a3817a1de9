package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newFakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		embedding := make([]float64, dims)
		embedding[0] = 1
		json.NewEncoder(w).Encode(map[string]any{"embedding": embedding})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedDetectsDimensions(t *testing.T) {
	srv := newFakeOllama(t, 768)
	p := New(Config{Endpoint: srv.URL})

	vecs, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 768 {
		t.Fatalf("got %d vectors of %d dims, want 1 of 768", len(vecs), len(vecs[0]))
	}
	if p.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768 after auto-detect", p.Dimensions())
	}
}

// Dimension auto-detect mutates shared state, so concurrent Embed calls
// must agree on the result without racing (run under -race).
func TestEmbedConcurrentDimensionDetect(t *testing.T) {
	srv := newFakeOllama(t, 384)
	p := New(Config{Endpoint: srv.URL})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Embed(context.Background(), []string{"a", "b"}); err != nil {
				t.Errorf("Embed failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if p.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384", p.Dimensions())
	}
}
