package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBatchMismatch is returned when an embedder answers a batch with a
// different number of vectors than inputs.
var ErrBatchMismatch = errors.New("embedding batch size mismatch")

// TextEmbedder encodes strings into the text space.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// ImageEmbedder encodes images, and text projected into the same space, for
// cross-modal retrieval.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	EmbedTextsForImageSpace(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Provider is enumeration of supported embedding providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderCLIP     Provider = "clip"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for both embedding spaces
type ClientConfig struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string

	ImageProvider Provider
	ClipURL       string
	ImageDim      int

	Workers int
	Timeout time.Duration
}

// NewTextEmbedder creates the text-space embedder selected by config.
func NewTextEmbedder(ctx context.Context, config *ClientConfig) (TextEmbedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config)
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported text provider: " + string(config.Provider))
	}
}

// NewImageEmbedder creates the image-space embedder selected by config.
func NewImageEmbedder(config *ClientConfig) (ImageEmbedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.ImageProvider {
	case ProviderCLIP:
		return NewCLIPClient(config)
	case ProviderStub:
		return NewStubClient(config.ImageDim), nil
	default:
		return nil, errors.New("unsupported image provider: " + string(config.ImageProvider))
	}
}

// Gateway is the process-wide embedding handle shared by ingestion and
// query. It bounds the number of model calls in flight.
type Gateway struct {
	text  TextEmbedder
	image ImageEmbedder
	sem   *semaphore.Weighted
}

// DefaultWorkers is the embedding concurrency used when none is configured.
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// NewGateway wraps the two embedders. workers <= 0 uses DefaultWorkers.
func NewGateway(text TextEmbedder, image ImageEmbedder, workers int) *Gateway {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Gateway{text: text, image: image, sem: semaphore.NewWeighted(int64(workers))}
}

// NewGatewayFromConfig builds both embedders from config.
func NewGatewayFromConfig(ctx context.Context, config *ClientConfig) (*Gateway, error) {
	text, err := NewTextEmbedder(ctx, config)
	if err != nil {
		return nil, err
	}
	image, err := NewImageEmbedder(config)
	if err != nil {
		return nil, err
	}
	if text.Dim() <= 0 || image.Dim() <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be set (text=%d image=%d)", text.Dim(), image.Dim())
	}
	return NewGateway(text, image, config.Workers), nil
}

// EmbedText encodes texts into the text space, one vector per input in order.
func (g *Gateway) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	vecs, err := g.text.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %d inputs, %d vectors", ErrBatchMismatch, len(texts), len(vecs))
	}
	return vecs, nil
}

// EmbedImage encodes the image stored at path.
func (g *Gateway) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.image.EmbedImage(ctx, path)
}

// EmbedTextForImageSpace projects texts into the image space.
func (g *Gateway) EmbedTextForImageSpace(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	vecs, err := g.image.EmbedTextsForImageSpace(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %d inputs, %d vectors", ErrBatchMismatch, len(texts), len(vecs))
	}
	return vecs, nil
}

func (g *Gateway) TextDim() int  { return g.text.Dim() }
func (g *Gateway) ImageDim() int { return g.image.Dim() }

// Close releases embedders that hold resources.
func (g *Gateway) Close() error {
	var errs []error
	for _, e := range []any{g.text, g.image} {
		if c, ok := e.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
