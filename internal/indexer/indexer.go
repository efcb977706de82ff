package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/internal/chunker"
	"github.com/seanblong/mmkb/internal/extract"
	"github.com/seanblong/mmkb/internal/media"
	"github.com/seanblong/mmkb/internal/store"
	"github.com/seanblong/mmkb/pkg/models"
)

var (
	// ErrParse marks a failure to extract a document.
	ErrParse = errors.New("parse error")
	// ErrIndex marks a failure of the vector index.
	ErrIndex = errors.New("vector store error")
)

// stageError keeps the underlying message while matching its stage
// sentinel with errors.Is.
type stageError struct {
	stage error
	err   error
}

func (e *stageError) Error() string   { return e.err.Error() }
func (e *stageError) Unwrap() []error { return []error{e.stage, e.err} }

// Embedder is the part of the embedding gateway used at ingest time.
type Embedder interface {
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// Extractor turns a file into text and image references.
type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Result, error)
	Supports(path string) bool
}

// Materializer resolves image references to local files.
type Materializer interface {
	MaterializeAll(ctx context.Context, refs []media.Ref) ([]string, []media.Skip)
}

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Indexer embeds chunks into the text and image collections.
type Indexer struct {
	Index           store.Index
	Embedder        Embedder
	TextCollection  string
	ImageCollection string
	Extractors      Extractor
	Materializer    Materializer
	Chunker         *chunker.Chunker
	Walker          FileSystemWalker
	// Workers bounds concurrent file ingestion in Run. Zero picks a default.
	Workers int
}

// SkippedItem is a point that was not written.
type SkippedItem struct {
	ChunkID string
	// Item is the chunk text (truncated) or the image path.
	Item   string
	Reason error
}

// Report counts what Insert wrote.
type Report struct {
	Written     int
	TextPoints  int
	ImagePoints int
	Skipped     []SkippedItem
}

// IngestResult summarizes a single document ingestion.
type IngestResult struct {
	Source       string
	Chunks       int
	Report       Report
	ImageSkipped []media.Skip
}

// Insert embeds each chunk and upserts one text point per non-blank text and
// one image point per embeddable image. Embedding failures are skipped; an
// index failure stops the insert and is returned with the partial report.
func (ix *Indexer) Insert(ctx context.Context, chunks []models.Chunk) (Report, error) {
	var rep Report
	textVecs := ix.embedTexts(ctx, chunks, &rep)

	for i, c := range chunks {
		if vec, ok := textVecs[i]; ok {
			p := store.Point{
				ID:     uuid.NewString(),
				Vector: vec,
				Payload: models.TextPayload{
					ChunkID: c.ID, Text: c.Text, Source: c.Source, Meta: c.Meta,
				}.Map(),
			}
			if err := ix.Index.Upsert(ctx, ix.TextCollection, p); err != nil {
				return rep, &stageError{stage: ErrIndex, err: fmt.Errorf("upsert text point: %w", err)}
			}
			rep.TextPoints++
			rep.Written++
		}

		for _, img := range c.Images {
			vec, err := ix.Embedder.EmbedImage(ctx, img)
			if err != nil {
				log.Warn().Err(err).Str("chunk", c.ID).Str("image", img).Msg("image embedding failed, skipping")
				rep.Skipped = append(rep.Skipped, SkippedItem{ChunkID: c.ID, Item: img, Reason: err})
				continue
			}
			p := store.Point{
				ID:     uuid.NewString(),
				Vector: vec,
				Payload: models.ImagePayload{
					ChunkID: c.ID, ImagePath: img, Source: c.Source, Meta: c.Meta,
				}.Map(),
			}
			if err := ix.Index.Upsert(ctx, ix.ImageCollection, p); err != nil {
				return rep, &stageError{stage: ErrIndex, err: fmt.Errorf("upsert image point: %w", err)}
			}
			rep.ImagePoints++
			rep.Written++
		}
	}
	return rep, nil
}

// embedTexts embeds all non-blank chunk texts in one batch, falling back to
// one call per text when the batch fails so a single bad fragment is
// skipped on its own. The map is keyed by chunk position.
func (ix *Indexer) embedTexts(ctx context.Context, chunks []models.Chunk, rep *Report) map[int][]float32 {
	var pos []int
	var texts []string
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		pos = append(pos, i)
		texts = append(texts, c.Text)
	}
	out := make(map[int][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	vecs, err := ix.Embedder.EmbedText(ctx, texts)
	if err == nil {
		for j, i := range pos {
			out[i] = vecs[j]
		}
		return out
	}
	log.Warn().Err(err).Int("texts", len(texts)).Msg("batch text embedding failed, retrying individually")

	for j, i := range pos {
		v, err := ix.Embedder.EmbedText(ctx, texts[j:j+1])
		if err != nil {
			log.Warn().Err(err).Str("chunk", chunks[i].ID).Msg("text embedding failed, skipping")
			rep.Skipped = append(rep.Skipped, SkippedItem{ChunkID: chunks[i].ID, Item: preview(texts[j]), Reason: err})
			continue
		}
		out[i] = v[0]
	}
	return out
}

// IngestFile extracts path, materializes its images, chunks the text and
// inserts the chunks.
func (ix *Indexer) IngestFile(ctx context.Context, path string) (IngestResult, error) {
	res := IngestResult{Source: path}

	doc, err := ix.Extractors.Extract(ctx, path)
	if err != nil {
		return res, &stageError{stage: ErrParse, err: err}
	}

	var images []string
	if len(doc.Images) > 0 {
		images, res.ImageSkipped = ix.Materializer.MaterializeAll(ctx, doc.Images)
	}

	ch := ix.Chunker
	if ch == nil {
		ch = chunker.New(chunker.DefaultMinParagraphLength)
	}
	chunks := ch.Chunk(doc.Text, images, path)
	res.Chunks = len(chunks)

	rep, err := ix.Insert(ctx, chunks)
	res.Report = rep
	if err != nil {
		return res, err
	}

	log.Info().Str("source", path).
		Int("chunks", res.Chunks).
		Int("text_points", rep.TextPoints).
		Int("image_points", rep.ImagePoints).
		Int("skipped", len(rep.Skipped)+len(res.ImageSkipped)).
		Msg("document indexed")
	return res, nil
}

// Summary counts the outcome of a directory run.
type Summary struct {
	Files  int64
	Failed int64
	Points int64
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8 // Cap at 8 to avoid overwhelming the embedding backends
	}
	return n
}

// Run ingests every supported file under root. Failures of individual files
// are logged and counted; only walk errors and cancellation are returned.
func (ix *Indexer) Run(ctx context.Context, root string) (Summary, error) {
	var sum Summary
	numWorkers := ix.workers()
	walker := ix.Walker
	if walker == nil {
		walker = &DefaultFileSystemWalker{}
	}

	log.Info().Int("workers", numWorkers).Str("root", root).Msg("starting concurrent indexing")

	workChan := make(chan string, numWorkers*2)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for path := range workChan {
				res, err := ix.IngestFile(ctx, path)
				atomic.AddInt64(&sum.Files, 1)
				atomic.AddInt64(&sum.Points, int64(res.Report.Written))
				if err != nil {
					atomic.AddInt64(&sum.Failed, 1)
					log.Error().Err(err).Str("path", path).Msg("ingestion failed")
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if shouldSkipDir(path) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if shouldSkipDir(filepath.Dir(path)) || !ix.Extractors.Supports(path) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case workChan <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	log.Info().Int64("files", sum.Files).
		Int64("failed", sum.Failed).
		Int64("points", sum.Points).
		Msg("indexing finished")
	return sum, walkErr
}

// shouldSkipDir returns true for directories that never hold documents.
func shouldSkipDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch strings.ToLower(part) {
		case ".git", "node_modules", ".venv", "venv", "__pycache__", ".cache", ".idea":
			return true
		}
	}
	return false
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return s
}
