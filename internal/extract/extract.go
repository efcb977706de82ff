// Package extract turns uploaded files into raw text plus image references.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/mmkb/internal/media"
)

// ErrUnsupported is returned for file extensions no extractor handles.
var ErrUnsupported = errors.New("unsupported file type")

// ErrInvalidEncoding is returned for text and markdown files that are not UTF-8.
var ErrInvalidEncoding = errors.New("file is not valid UTF-8")

// Result is the output of an extractor.
type Result struct {
	Text   string
	Images []media.Ref
}

// Extractor handles one family of file formats.
type Extractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// Registry dispatches on the lowercased file extension.
type Registry struct {
	byExt map[string]Extractor
	// ArtifactDir receives a plain-text copy of every extraction when set.
	ArtifactDir string
}

// NewRegistry returns a registry with the pdf, markdown and text extractors.
func NewRegistry(artifactDir string) *Registry {
	r := &Registry{byExt: map[string]Extractor{}, ArtifactDir: artifactDir}
	md := &Markdown{}
	r.Register(".pdf", NewPDF(nil))
	r.Register(".md", md)
	r.Register(".markdown", md)
	r.Register(".txt", &Text{})
	return r
}

// Register binds ext (with leading dot) to e.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract runs the extractor registered for path's extension.
func (r *Registry) Extract(ctx context.Context, path string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	res, err := e.Extract(ctx, path)
	if err != nil {
		return Result{}, err
	}
	if r.ArtifactDir != "" {
		if err := r.saveArtifact(path, res.Text); err != nil {
			return Result{}, fmt.Errorf("save extracted text: %w", err)
		}
	}
	return res, nil
}

func (r *Registry) saveArtifact(path, text string) error {
	if err := os.MkdirAll(r.ArtifactDir, 0o755); err != nil {
		return err
	}
	name := filepath.Base(path) + ".txt"
	return os.WriteFile(filepath.Join(r.ArtifactDir, name), []byte(text), 0o644)
}

// Text reads a plain UTF-8 file.
type Text struct{}

func (t *Text) Extract(_ context.Context, path string) (Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	if !utf8.Valid(b) {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidEncoding, filepath.Base(path))
	}
	return Result{Text: string(b)}, nil
}
