package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/mmkb/pkg/models"
)

// Postgres stores each collection in its own pgvector table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new Postgres index connected to the given database URL.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: p}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,48}$`)

// tableName maps a collection to its table. Names are interpolated into
// SQL so anything outside the identifier charset is rejected.
func tableName(collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	return "points_" + collection, nil
}

func (s *Postgres) EnsureCollection(ctx context.Context, c Collection) error {
	table, err := tableName(c.Name)
	if err != nil {
		return err
	}

	existing, found, err := s.vectorDim(ctx, table)
	if err != nil {
		return err
	}
	if found {
		if existing != c.Dim {
			return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, existing, c.Dim)
		}
		return nil
	}

	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
  id          TEXT PRIMARY KEY,
  vec         vector(%[2]d) NOT NULL,
  payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[1]s_vec_idx
  ON %[1]s USING ivfflat (vec vector_cosine_ops) WITH (lists = 100);
`
	_, err = s.pool.Exec(ctx, fmt.Sprintf(q, table, c.Dim))
	return err
}

// vectorDim reads the declared dimension of the vec column, which pgvector
// stores as the attribute type modifier.
func (s *Postgres) vectorDim(ctx context.Context, table string) (int, bool, error) {
	const q = `
      SELECT a.atttypmod
      FROM pg_attribute a
      WHERE a.attrelid = to_regclass($1) AND a.attname = 'vec' AND NOT a.attisdropped`
	var dim int
	err := s.pool.QueryRow(ctx, q, table).Scan(&dim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return dim, true, nil
}

// Upsert inserts or replaces a point.
func (s *Postgres) Upsert(ctx context.Context, collection string, p Point) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	payload := p.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, vec, payload, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			vec     = EXCLUDED.vec,
			payload = EXCLUDED.payload`, table)
	_, err = s.pool.Exec(ctx, q, p.ID, pgvector.NewVector(p.Vector), payload)
	return err
}

func (s *Postgres) Search(ctx context.Context, collection string, vec []float32, k int) ([]models.Hit, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.Hit{}, nil
	}

	q := fmt.Sprintf(`
SELECT payload, 1 - (vec <=> $1) AS score
FROM %s
ORDER BY vec <=> $1
LIMIT $2`, table)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Hit, 0, k)
	for rows.Next() {
		var h models.Hit
		if err := rows.Scan(&h.Payload, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHits(out)
	return out, nil
}

func (s *Postgres) Count(ctx context.Context, collection string) (int, error) {
	table, err := tableName(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n)
	return n, err
}
