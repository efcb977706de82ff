package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/seanblong/mmkb/internal/media"
)

var (
	imageRef     = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)
	codeFence    = regexp.MustCompile("(?s)```[^`]*```")
	inlineCode   = regexp.MustCompile("`([^`]+)`")
	imageSyntax  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkSyntax   = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingMark  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	blockquote   = regexp.MustCompile(`(?m)^>\s*`)
	horizontal   = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
	listMarker   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	numberedList = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	emphasis     = regexp.MustCompile(`(\*\*|__|\*)`)
	htmlTag      = regexp.MustCompile(`<[^>]+>`)
)

// Markdown extracts text and image links from .md files. Relative local
// image paths resolve against the markdown file's directory.
type Markdown struct{}

func (m *Markdown) Extract(_ context.Context, path string) (Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	if !utf8.Valid(b) {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidEncoding, filepath.Base(path))
	}
	content := string(b)
	return Result{
		Text:   stripMarkdown(content),
		Images: imageRefs(content, filepath.Dir(path)),
	}, nil
}

func imageRefs(content, baseDir string) []media.Ref {
	var refs []media.Ref
	for _, m := range imageRef.FindAllStringSubmatch(content, -1) {
		target := strings.TrimSpace(m[1])
		// drop an optional title: ![alt](url "title")
		if i := strings.IndexAny(target, " \t"); i > 0 {
			target = target[:i]
		}
		target = strings.Trim(target, "<>")
		if target == "" {
			continue
		}
		ref := media.Classify(target)
		if ref.Kind == media.KindLocalPath && !filepath.IsAbs(ref.Location) {
			ref.Location = filepath.Join(baseDir, ref.Location)
		}
		refs = append(refs, ref)
	}
	return refs
}

// stripMarkdown reduces markdown to plain text, one source line per line.
func stripMarkdown(content string) string {
	content = codeFence.ReplaceAllStringFunc(content, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		// drop the info string (language tag) on the opening fence line
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		return s
	})
	content = imageSyntax.ReplaceAllString(content, "")
	content = linkSyntax.ReplaceAllString(content, "$1")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = headingMark.ReplaceAllString(content, "")
	content = blockquote.ReplaceAllString(content, "")
	content = horizontal.ReplaceAllString(content, "")
	content = listMarker.ReplaceAllString(content, "")
	content = numberedList.ReplaceAllString(content, "")
	content = emphasis.ReplaceAllString(content, "")
	content = htmlTag.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}
