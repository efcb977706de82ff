// Package app assembles the long-lived components both binaries share.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/internal/ai"
	"github.com/seanblong/mmkb/internal/archive"
	"github.com/seanblong/mmkb/internal/chunker"
	"github.com/seanblong/mmkb/internal/config"
	"github.com/seanblong/mmkb/internal/extract"
	"github.com/seanblong/mmkb/internal/indexer"
	"github.com/seanblong/mmkb/internal/media"
	"github.com/seanblong/mmkb/internal/search"
	"github.com/seanblong/mmkb/internal/store"
)

type App struct {
	Config  config.Specification
	Gateway *ai.Gateway
	Index   store.Index
	Archive *archive.Archive
	Indexer *indexer.Indexer
	Search  *search.Service
}

// ClientConfig maps the provider settings onto an ai.ClientConfig.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	cc := &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		EmbedModel: cfg.EmbedModel,
		Dim:        cfg.TextDim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		ClipURL:    cfg.ClipURL,
		ImageDim:   cfg.ImageDim,
		Workers:    cfg.EmbedWorkers,
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "stub", "":
		cc.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	switch strings.ToLower(cfg.ImageProvider) {
	case "clip":
		cc.ImageProvider = ai.ProviderCLIP
	case "stub", "":
		cc.ImageProvider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported image provider: %s", cfg.ImageProvider)
	}
	return cc, nil
}

// New connects every component and makes sure both collections exist with
// the embedders' dimensions.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	cc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := ai.NewGatewayFromConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create embedding gateway: %w", err)
	}
	log.Info().Str("provider", string(cc.Provider)).
		Str("image_provider", string(cc.ImageProvider)).
		Int("text_dim", gw.TextDim()).
		Int("image_dim", gw.ImageDim()).
		Msg("embedding gateway initialized")

	idx, err := store.Open(ctx, store.Options{
		Backend:      strings.ToLower(cfg.VectorStore),
		QdrantURL:    cfg.QdrantURL,
		QdrantAPIKey: cfg.QdrantAPIKey,
		DatabaseURL:  cfg.Database,
	})
	if err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	a := &App{Config: cfg, Gateway: gw, Index: idx}

	if err := store.EnsureCollections(ctx, idx,
		store.Collection{Name: cfg.TextCollection, Dim: gw.TextDim()},
		store.Collection{Name: cfg.ImageCollection, Dim: gw.ImageDim()},
	); err != nil {
		a.Close()
		return nil, err
	}

	a.Archive, err = archive.New(archive.Config{
		Enabled:   cfg.Archive.Enabled,
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		UseSSL:    cfg.Archive.UseSSL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create archive: %w", err)
	}

	mat := media.New(cfg.ImageDir(), cfg.FetchTimeout)
	if a.Archive != nil {
		mat.Mirror = a.Archive
	}

	a.Indexer = &indexer.Indexer{
		Index:           idx,
		Embedder:        gw,
		TextCollection:  cfg.TextCollection,
		ImageCollection: cfg.ImageCollection,
		Extractors:      extract.NewRegistry(cfg.ExtractedDir()),
		Materializer:    mat,
		Chunker:         chunker.New(cfg.MinParagraphLength),
		Walker:          &indexer.DefaultFileSystemWalker{},
		Workers:         cfg.EmbedWorkers,
	}
	a.Search = search.NewService(gw, idx, cfg.TextCollection, cfg.ImageCollection)
	return a, nil
}

// Mirror returns the archive as a media.Mirror, or an untyped nil when
// archiving is disabled.
func (a *App) Mirror() media.Mirror {
	if a.Archive == nil {
		return nil
	}
	return a.Archive
}

// Close releases the index and the embedding clients.
func (a *App) Close() {
	if a.Index != nil {
		a.Index.Close()
	}
	if a.Gateway != nil {
		if err := a.Gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("close embedding clients")
		}
	}
}
