package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/internal/store"
	"github.com/seanblong/mmkb/pkg/models"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyQuery = errors.New("query is empty")

// QueryEmbedder projects a query into both embedding spaces.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
	EmbedTextForImageSpace(ctx context.Context, texts []string) ([][]float32, error)
}

type Service struct {
	Embedder        QueryEmbedder
	Index           store.Index
	TextCollection  string
	ImageCollection string
}

// NewService creates a new search service over the two collections.
func NewService(e QueryEmbedder, idx store.Index, textCollection, imageCollection string) *Service {
	return &Service{
		Embedder:        e,
		Index:           idx,
		TextCollection:  textCollection,
		ImageCollection: imageCollection,
	}
}

// QueryMultimodal searches the text collection with the text-space
// embedding of q and the image collection with its image-space embedding.
// The two ranked lists are returned side by side, never merged.
func (s *Service) QueryMultimodal(ctx context.Context, q string, k int) (models.MultimodalResult, error) {
	out := models.MultimodalResult{Query: q, Texts: []models.Hit{}, Images: []models.Hit{}}
	if strings.TrimSpace(q) == "" {
		return out, ErrEmptyQuery
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := single(s.Embedder.EmbedText(gctx, []string{q}))
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := s.Index.Search(gctx, s.TextCollection, vec, k)
		if err != nil {
			return fmt.Errorf("search %s: %w", s.TextCollection, err)
		}
		if hits != nil {
			out.Texts = hits
		}
		return nil
	})
	g.Go(func() error {
		vec, err := single(s.Embedder.EmbedTextForImageSpace(gctx, []string{q}))
		if err != nil {
			return fmt.Errorf("embed query for image space: %w", err)
		}
		hits, err := s.Index.Search(gctx, s.ImageCollection, vec, k)
		if err != nil {
			return fmt.Errorf("search %s: %w", s.ImageCollection, err)
		}
		if hits != nil {
			out.Images = hits
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("query", q).Msg("multimodal query failed")
		return models.MultimodalResult{Query: q, Texts: []models.Hit{}, Images: []models.Hit{}}, err
	}

	log.Debug().Str("query", q).
		Int("texts", len(out.Texts)).
		Int("images", len(out.Images)).
		Msg("multimodal query")
	return out, nil
}

func single(vecs [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}
