// Package chunker splits extracted document text into paragraph fragments
// and assembles them into chunks.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/seanblong/mmkb/pkg/models"
)

// DefaultMinParagraphLength is the buffer length (in characters) a fragment
// must reach before a new one is started.
const DefaultMinParagraphLength = 50

// Chunker turns raw text plus materialized image paths into chunks.
type Chunker struct {
	MinParagraphLength int
}

// New creates a Chunker. A non-positive minLen falls back to the default.
func New(minLen int) *Chunker {
	if minLen <= 0 {
		minLen = DefaultMinParagraphLength
	}
	return &Chunker{MinParagraphLength: minLen}
}

// Chunk splits raw and assembles the fragments for source.
func (c *Chunker) Chunk(raw string, images []string, source string) []models.Chunk {
	return Assemble(Split(raw, c.MinParagraphLength), images, source)
}

// Split merges non-empty trimmed lines greedily: while the running buffer is
// shorter than minLen the next line is appended with a single space,
// otherwise the buffer is emitted and the line starts a new one. Lines are
// never split and the last fragment may be short.
func Split(raw string, minLen int) []string {
	var paras []string
	var buf strings.Builder
	bufLen := 0

	for _, line := range strings.FieldsFunc(raw, isLineBreak) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case bufLen == 0:
			buf.WriteString(line)
			bufLen = utf8.RuneCountInString(line)
		case bufLen < minLen:
			buf.WriteByte(' ')
			buf.WriteString(line)
			bufLen += 1 + utf8.RuneCountInString(line)
		default:
			paras = append(paras, buf.String())
			buf.Reset()
			buf.WriteString(line)
			bufLen = utf8.RuneCountInString(line)
		}
	}
	if bufLen > 0 {
		paras = append(paras, buf.String())
	}
	return paras
}

// isLineBreak matches every rune Python's str.splitlines treats as a line
// boundary. Empty lines are dropped anyway, so "\r\n" needs no special case.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// Assemble builds one chunk per paragraph. Only the first chunk carries the
// images. With no paragraphs but at least one image a single image-only
// chunk is produced; with neither, nothing is.
func Assemble(paras []string, images []string, source string) []models.Chunk {
	if len(paras) == 0 {
		if len(images) == 0 {
			return nil
		}
		return []models.Chunk{newChunk("", images, source, map[string]any{})}
	}

	chunks := make([]models.Chunk, 0, len(paras))
	for i, p := range paras {
		imgs := []string{}
		if i == 0 {
			imgs = images
		}
		chunks = append(chunks, newChunk(p, imgs, source, map[string]any{"para_index": i}))
	}
	return chunks
}

func newChunk(text string, images []string, source string, meta map[string]any) models.Chunk {
	imgs := make([]string, len(images))
	copy(imgs, images)
	return models.Chunk{
		ID:     uuid.NewString(),
		Text:   text,
		Images: imgs,
		Source: source,
		Meta:   meta,
	}
}
