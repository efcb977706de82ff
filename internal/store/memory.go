package store

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/seanblong/mmkb/pkg/models"
)

type memCollection struct {
	dim    int
	ids    []string
	points map[string]Point
}

// Memory is an in-process index with brute-force cosine search.
type Memory struct {
	mu   sync.RWMutex
	cols map[string]*memCollection
}

func NewMemory() *Memory {
	return &Memory{cols: make(map[string]*memCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, c Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.cols[c.Name]; ok {
		if existing.dim != c.Dim {
			return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, existing.dim, c.Dim)
		}
		return nil
	}
	m.cols[c.Name] = &memCollection{dim: c.Dim, points: make(map[string]Point)}
	return nil
}

func (m *Memory) Upsert(_ context.Context, collection string, p Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.cols[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if len(p.Vector) != col.dim {
		return fmt.Errorf("%w: got %d, collection %s has %d", ErrDimensionMismatch, len(p.Vector), collection, col.dim)
	}
	if _, exists := col.points[p.ID]; !exists {
		col.ids = append(col.ids, p.ID)
	}
	col.points[p.ID] = Point{
		ID:      p.ID,
		Vector:  append([]float32(nil), p.Vector...),
		Payload: maps.Clone(p.Payload),
	}
	return nil
}

func (m *Memory) Search(_ context.Context, collection string, vec []float32, k int) ([]models.Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.cols[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if k <= 0 {
		return []models.Hit{}, nil
	}
	if len(vec) != col.dim {
		return nil, fmt.Errorf("%w: query has %d, collection %s has %d", ErrDimensionMismatch, len(vec), collection, col.dim)
	}

	hits := make([]models.Hit, 0, len(col.ids))
	for _, id := range col.ids {
		p := col.points[id]
		hits = append(hits, models.Hit{Score: cosine(vec, p.Vector), Payload: maps.Clone(p.Payload)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.cols[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return len(col.ids), nil
}

func (m *Memory) Close() {}

// cosine returns 0 when either vector has zero norm.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
