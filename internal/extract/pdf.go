package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/mmkb/internal/media"
)

// ErrToolNotFound is returned when poppler's pdftotext is not installed.
var ErrToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDF extracts page text with pdftotext and embedded images with pdfimages.
type PDF struct {
	runner   CommandRunner
	lookPath func(string) (string, error)
}

// NewPDF creates a PDF extractor. A nil runner executes the real binaries.
func NewPDF(runner CommandRunner) *PDF {
	if runner == nil {
		runner = execRunner{}
	}
	return &PDF{runner: runner, lookPath: exec.LookPath}
}

func (p *PDF) Extract(ctx context.Context, path string) (Result, error) {
	if _, err := p.lookPath("pdftotext"); err != nil {
		return Result{}, ErrToolNotFound
	}
	out, err := p.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return Result{}, fmt.Errorf("pdftotext failed: %w", err)
	}
	// pages are separated by form feeds
	text := strings.ReplaceAll(string(out), "\f", "\n\n")

	return Result{Text: text, Images: p.images(ctx, path)}, nil
}

// images returns the embedded page images as inline payloads. Any failure
// drops the images but keeps the text.
func (p *PDF) images(ctx context.Context, path string) []media.Ref {
	if _, err := p.lookPath("pdfimages"); err != nil {
		log.Debug().Str("path", path).Msg("pdfimages not found, skipping pdf images")
		return nil
	}
	dir, err := os.MkdirTemp("", "mmkb-pdfimages-*")
	if err != nil {
		log.Warn().Err(err).Msg("pdf image temp dir")
		return nil
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove temp directory")
		}
	}()

	if _, err := p.runner.Run(ctx, "pdfimages", "-png", path, filepath.Join(dir, "img")); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("pdfimages failed")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("read pdf images")
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var refs []media.Ref
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			log.Warn().Err(err).Str("page_image", n).Msg("pdf image extract failed")
			continue
		}
		refs = append(refs, media.InlineBytes(b))
	}
	return refs
}
