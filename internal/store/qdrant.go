package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/pkg/models"
)

// Qdrant is a minimal REST client to a Qdrant server.
type Qdrant struct {
	url    string
	apiKey string
	client *http.Client
}

type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

type qdrantStatusError struct {
	method string
	path   string
	code   int
	status string
	body   string
}

func (e *qdrantStatusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("qdrant %s %s failed: %s: %s", e.method, e.path, e.status, e.body)
	}
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.path, e.status)
}

func (q *Qdrant) EnsureCollection(ctx context.Context, c Collection) error {
	name := url.PathEscape(c.Name)

	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections/"+name+"/exists", nil, &exists); err != nil {
		return err
	}
	if exists.Result.Exists {
		return q.checkDim(ctx, c)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.Dim,
			"distance": string(c.Distance),
		},
	}
	err := q.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
	if se, ok := err.(*qdrantStatusError); ok && se.code == http.StatusConflict {
		// created by another process between the check and the PUT
		log.Debug().Str("collection", c.Name).Msg("collection created concurrently")
		return q.checkDim(ctx, c)
	}
	return err
}

func (q *Qdrant) checkDim(ctx context.Context, c Collection) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(c.Name), nil, &info); err != nil {
		return err
	}
	if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != c.Dim {
		return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, size, c.Dim)
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, p Point) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}},
	}
	return q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", body, nil)
}

func (q *Qdrant) Search(ctx context.Context, collection string, vec []float32, k int) ([]models.Hit, error) {
	if k <= 0 {
		return []models.Hit{}, nil
	}
	req := map[string]any{
		"vector":       vec,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]models.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, models.Hit{Score: r.Score, Payload: r.Payload})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (q *Qdrant) Count(ctx context.Context, collection string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/count", map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (q *Qdrant) Close() { q.client.CloseIdleConnections() }

func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.url+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close response body")
		}
	}()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &qdrantStatusError{method: method, path: path, code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
