package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/pkg/models"
)

// Distance is the similarity metric of a collection. Only cosine is used.
type Distance string

const DistanceCosine Distance = "Cosine"

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

// Collection describes a named vector collection.
type Collection struct {
	Name     string
	Dim      int
	Distance Distance
}

// Point is a single vector with its payload. ID is a UUID string.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Index defines the methods every vector index backend must implement.
type Index interface {
	// EnsureCollection creates the collection when absent and leaves an
	// existing one untouched.
	EnsureCollection(ctx context.Context, c Collection) error
	Upsert(ctx context.Context, collection string, p Point) error
	// Search returns at most k hits sorted by descending score.
	Search(ctx context.Context, collection string, vec []float32, k int) ([]models.Hit, error)
	Count(ctx context.Context, collection string) (int, error)
	Close()
}

// Backend names accepted by Open.
const (
	BackendQdrant   = "qdrant"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend      string
	QdrantURL    string
	QdrantAPIKey string
	DatabaseURL  string
	Timeout      time.Duration
}

// Open returns the backend named by opt.Backend.
func Open(ctx context.Context, opt Options) (Index, error) {
	switch opt.Backend {
	case BackendQdrant:
		if opt.QdrantURL == "" {
			return nil, errors.New("qdrant url is required")
		}
		return NewQdrant(QdrantConfig{URL: opt.QdrantURL, APIKey: opt.QdrantAPIKey, Timeout: opt.Timeout}), nil
	case BackendPostgres:
		if opt.DatabaseURL == "" {
			return nil, errors.New("database url is required")
		}
		pg, err := NewPostgres(ctx, opt.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres unreachable: %w", err)
		}
		return pg, nil
	case BackendMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store: %s", opt.Backend)
	}
}

// ensureMu serializes collection creation within the process so two
// concurrent callers cannot race on the existence check.
var ensureMu sync.Mutex

// EnsureCollections makes sure every collection exists with the given
// dimension. It never removes or recreates existing data.
func EnsureCollections(ctx context.Context, idx Index, cols ...Collection) error {
	ensureMu.Lock()
	defer ensureMu.Unlock()

	for _, c := range cols {
		if c.Name == "" {
			return errors.New("collection name is required")
		}
		if c.Dim <= 0 {
			return fmt.Errorf("collection %s: invalid dimension %d", c.Name, c.Dim)
		}
		if c.Distance == "" {
			c.Distance = DistanceCosine
		}
		if err := idx.EnsureCollection(ctx, c); err != nil {
			return fmt.Errorf("ensure collection %s: %w", c.Name, err)
		}
		log.Debug().Str("collection", c.Name).Int("dim", c.Dim).Msg("collection ready")
	}
	return nil
}

func sortHits(hits []models.Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
