package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/seanblong/mmkb/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// fakeQdrant is an in-memory stand-in for the Qdrant REST endpoints used by
// the client.
type fakeQdrant struct {
	mu      sync.Mutex
	cols    map[string]int
	points  map[string][]map[string]any
	creates int
	// conflictOnce answers the first PUT /collections/{c} with 409 after
	// creating the collection, as if another process won the race.
	conflictOnce bool
	apiKey       string
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{cols: map[string]int{}, points: map[string][]map[string]any{}}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}
	name := parts[1]
	rest := strings.Join(parts[2:], "/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && rest == "exists":
		_, ok := f.cols[name]
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"exists": ok}})
	case r.Method == http.MethodGet && rest == "":
		dim, ok := f.cols[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}},
		}})
	case r.Method == http.MethodPut && rest == "":
		var req struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.creates++
		if _, ok := f.cols[name]; ok || f.conflictOnce {
			f.conflictOnce = false
			f.cols[name] = req.Vectors.Size
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"status":{"error":"already exists"}}`))
			return
		}
		f.cols[name] = req.Vectors.Size
		_, _ = w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodPut && rest == "points":
		if _, ok := f.cols[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("wait") != "true" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			Points []map[string]any `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.points[name] = append(f.points[name], req.Points...)
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	case r.Method == http.MethodPost && rest == "points/search":
		var req struct {
			Vector      []float32 `json:"vector"`
			Limit       int       `json:"limit"`
			WithPayload bool      `json:"with_payload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var hits []map[string]any
		for _, p := range f.points[name] {
			raw, _ := json.Marshal(p["vector"])
			var v []float32
			_ = json.Unmarshal(raw, &v)
			hit := map[string]any{"score": cosine(req.Vector, v)}
			if req.WithPayload {
				hit["payload"] = p["payload"]
			}
			hits = append(hits, hit)
		}
		// unsorted and untrimmed; the client orders and caps
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})
	case r.Method == http.MethodPost && rest == "points/count":
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"count": len(f.points[name])}})
	default:
		http.NotFound(w, r)
	}
}

func backends(t *testing.T) map[string]Index {
	t.Helper()
	srv := httptest.NewServer(newFakeQdrant())
	t.Cleanup(srv.Close)
	return map[string]Index{
		"memory": NewMemory(),
		"qdrant": NewQdrant(QdrantConfig{URL: srv.URL + "/"}),
	}
}

func TestIndex_EnsureUpsertSearch(t *testing.T) {
	ctx := context.Background()
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			col := Collection{Name: "text_chunks", Dim: 2}
			if err := EnsureCollections(ctx, idx, col); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}

			vecs := map[string][]float32{
				"east":      {1, 0},
				"north":     {0, 1},
				"northeast": {1, 1},
			}
			for label, v := range vecs {
				err := idx.Upsert(ctx, col.Name, Point{ID: uuid.NewString(), Vector: v, Payload: map[string]any{"label": label}})
				if err != nil {
					t.Fatalf("Upsert failed: %v", err)
				}
			}

			hits, err := idx.Search(ctx, col.Name, []float32{1, 0.1}, 2)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(hits) != 2 {
				t.Fatalf("Expected 2 hits, got %d", len(hits))
			}
			if hits[0].Payload["label"] != "east" || hits[1].Payload["label"] != "northeast" {
				t.Errorf("unexpected ranking %v", hits)
			}
			if hits[0].Score < hits[1].Score {
				t.Errorf("hits not sorted descending: %v", hits)
			}

			hits, err = idx.Search(ctx, col.Name, []float32{1, 0}, 0)
			if err != nil || len(hits) != 0 {
				t.Errorf("k=0 should return no hits, got %v, %v", hits, err)
			}

			// re-ensuring must not drop data
			if err := EnsureCollections(ctx, idx, col); err != nil {
				t.Fatalf("second ensure failed: %v", err)
			}
			n, err := idx.Count(ctx, col.Name)
			if err != nil {
				t.Fatal(err)
			}
			if n != 3 {
				t.Errorf("Expected 3 points after re-ensure, got %d", n)
			}
		})
	}
}

func TestIndex_DimensionMismatchOnExisting(t *testing.T) {
	ctx := context.Background()
	for name, idx := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := EnsureCollections(ctx, idx, Collection{Name: "image_chunks", Dim: 4}); err != nil {
				t.Fatal(err)
			}
			err := EnsureCollections(ctx, idx, Collection{Name: "image_chunks", Dim: 8})
			if !errors.Is(err, ErrDimensionMismatch) {
				t.Errorf("Expected ErrDimensionMismatch, got %v", err)
			}
		})
	}
}

func TestEnsureCollections_Validation(t *testing.T) {
	tests := []struct {
		name string
		col  Collection
	}{
		{"empty name", Collection{Dim: 3}},
		{"zero dim", Collection{Name: "x"}},
		{"negative dim", Collection{Name: "x", Dim: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := EnsureCollections(context.Background(), NewMemory(), tt.col); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestEnsureCollections_Concurrent(t *testing.T) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	idx := NewQdrant(QdrantConfig{URL: srv.URL})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- EnsureCollections(context.Background(), idx,
				Collection{Name: "text_chunks", Dim: 3}, Collection{Name: "image_chunks", Dim: 5})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if fake.creates != 2 {
		t.Errorf("Expected each collection to be created once, got %d creates", fake.creates)
	}
}

func TestQdrant_ConflictCountsAsCreated(t *testing.T) {
	fake := newFakeQdrant()
	fake.conflictOnce = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	idx := NewQdrant(QdrantConfig{URL: srv.URL})
	if err := idx.EnsureCollection(context.Background(), Collection{Name: "text_chunks", Dim: 3, Distance: DistanceCosine}); err != nil {
		t.Errorf("Expected 409 to be treated as success, got %v", err)
	}
}

func TestQdrant_APIKeyAndErrors(t *testing.T) {
	fake := newFakeQdrant()
	fake.apiKey = "secret"
	srv := httptest.NewServer(fake)
	defer srv.Close()
	ctx := context.Background()

	bad := NewQdrant(QdrantConfig{URL: srv.URL, APIKey: "wrong"})
	if err := bad.EnsureCollection(ctx, Collection{Name: "c", Dim: 2}); err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Expected 403 error, got %v", err)
	}

	good := NewQdrant(QdrantConfig{URL: srv.URL, APIKey: "secret"})
	if err := good.EnsureCollection(ctx, Collection{Name: "c", Dim: 2, Distance: DistanceCosine}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := good.Upsert(ctx, "missing", Point{ID: uuid.NewString(), Vector: []float32{1, 0}}); err == nil {
		t.Error("Expected upsert into a missing collection to fail")
	}
}

func TestMemory_Errors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Upsert(ctx, "nope", Point{ID: "a", Vector: []float32{1}}); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
	if _, err := m.Search(ctx, "nope", []float32{1}, 1); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
	_ = m.EnsureCollection(ctx, Collection{Name: "c", Dim: 2})
	if err := m.Upsert(ctx, "c", Point{ID: "a", Vector: []float32{1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMemory_ZeroVectorScoresZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.EnsureCollection(ctx, Collection{Name: "c", Dim: 2})
	_ = m.Upsert(ctx, "c", Point{ID: "z", Vector: []float32{0, 0}, Payload: map[string]any{"id": "z"}})

	hits, err := m.Search(ctx, "c", []float32{0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Score != 0 {
		t.Errorf("Expected a single zero score hit, got %v", hits)
	}
}

func TestMemory_PayloadIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.EnsureCollection(ctx, Collection{Name: "c", Dim: 1})
	payload := map[string]any{"text": "original"}
	_ = m.Upsert(ctx, "c", Point{ID: "a", Vector: []float32{1}, Payload: payload})
	payload["text"] = "mutated"

	hits, _ := m.Search(ctx, "c", []float32{1}, 1)
	if hits[0].Payload["text"] != "original" {
		t.Errorf("stored payload changed with caller's map: %v", hits[0].Payload)
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"text_chunks", "points_text_chunks", false},
		{"image_chunks", "points_image_chunks", false},
		{"drop table;", "", true},
		{"1abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := tableName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("tableName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("tableName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		opt     Options
		wantErr bool
	}{
		{"memory", Options{Backend: BackendMemory}, false},
		{"default", Options{}, false},
		{"qdrant", Options{Backend: BackendQdrant, QdrantURL: "http://localhost:6333"}, false},
		{"qdrant without url", Options{Backend: BackendQdrant}, true},
		{"postgres without url", Options{Backend: BackendPostgres}, true},
		{"postgres unreachable", Options{Backend: BackendPostgres, DatabaseURL: "postgres://kb:kb@127.0.0.1:1/kb?sslmode=disable&connect_timeout=1"}, true},
		{"postgres bad url", Options{Backend: BackendPostgres, DatabaseURL: "::not a dsn::"}, true},
		{"unknown", Options{Backend: "faiss"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Open(ctx, tt.opt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if idx != nil {
				idx.Close()
			}
		})
	}
}

func TestSortHits(t *testing.T) {
	hits := []models.Hit{{Score: 0.1}, {Score: 0.9}, {Score: 0.5}}
	sortHits(hits)
	if hits[0].Score != 0.9 || hits[2].Score != 0.1 {
		t.Errorf("unexpected order %v", hits)
	}
}
