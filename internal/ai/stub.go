package ai

import (
	"context"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"unicode"
)

// StubClient is a deterministic, model-free embedder for local runs and
// tests. Vectors are L2-normalized hashed bags of words; an image is
// embedded from the words of its file name so text queries can find it.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

func (s *StubClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.hashWords(t)
	}
	return out, nil
}

func (s *StubClient) EmbedTextsForImageSpace(ctx context.Context, texts []string) ([][]float32, error) {
	return s.EmbedTexts(ctx, texts)
}

// EmbedImage fails for files that are not decodable images.
func (s *StubClient) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if _, err := loadImage(path); err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return s.hashWords(stem), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func (s *StubClient) hashWords(text string) []float32 {
	v := make([]float32, s.dim)
	if s.dim == 0 {
		return v
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32()%uint32(s.dim))] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
