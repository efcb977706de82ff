// Package media resolves image references to durable local files.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/mo"
)

// DefaultFetchTimeout bounds a remote image download.
const DefaultFetchTimeout = 10 * time.Second

const defaultExt = ".png"

var (
	ErrFetch       = errors.New("image fetch failed")
	ErrNotFound    = errors.New("image path not found")
	ErrWrite       = errors.New("image write failed")
	ErrUnsupported = errors.New("unsupported image reference")
)

// Mirror receives every successfully materialized image. Failures are
// logged and never affect materialization.
type Mirror interface {
	PutFile(ctx context.Context, key, localPath string) error
}

// Skip records an image reference that could not be materialized.
type Skip struct {
	Ref    Ref
	Reason error
}

// Materializer writes images into Dir.
type Materializer struct {
	Dir    string
	Client *http.Client
	Mirror Mirror
}

// New creates a Materializer with a bounded HTTP client.
func New(dir string, timeout time.Duration) *Materializer {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Materializer{
		Dir:    dir,
		Client: &http.Client{Timeout: timeout},
	}
}

// Materialize resolves ref to a local file under Dir. The result is either
// the local path or the reason the image was skipped.
func (m *Materializer) Materialize(ctx context.Context, ref Ref) mo.Result[string] {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return mo.Err[string](fmt.Errorf("%w: create %s: %v", ErrWrite, m.Dir, err))
	}

	var res mo.Result[string]
	switch ref.Kind {
	case KindRemoteURL:
		res = m.fetch(ctx, ref.Location)
	case KindLocalPath:
		res = m.copyLocal(ref.Location)
	case KindInlineBytes:
		res = m.writeFile(generatedName(), ref.Data)
	default:
		res = mo.Err[string](fmt.Errorf("%w: kind %d", ErrUnsupported, ref.Kind))
	}

	if p, err := res.Get(); err == nil && m.Mirror != nil {
		if merr := m.Mirror.PutFile(ctx, "images/"+filepath.Base(p), p); merr != nil {
			log.Warn().Err(merr).Str("path", p).Msg("image mirror failed")
		}
	}
	return res
}

// MaterializeAll resolves refs in order, returning the paths that succeeded
// and the references that were skipped.
func (m *Materializer) MaterializeAll(ctx context.Context, refs []Ref) ([]string, []Skip) {
	paths := make([]string, 0, len(refs))
	var skipped []Skip
	for _, ref := range refs {
		p, err := m.Materialize(ctx, ref).Get()
		if err != nil {
			log.Warn().Err(err).Str("ref", ref.String()).Msg("image skipped")
			skipped = append(skipped, Skip{Ref: ref, Reason: err})
			continue
		}
		paths = append(paths, p)
	}
	return paths, skipped
}

func (m *Materializer) fetch(ctx context.Context, rawURL string) mo.Result[string] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return mo.Err[string](fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err))
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return mo.Err[string](fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mo.Err[string](fmt.Errorf("%w: %s: %s", ErrFetch, rawURL, resp.Status))
	}

	dest := filepath.Join(m.Dir, filenameFromURL(rawURL))
	f, err := os.Create(dest)
	if err != nil {
		return mo.Err[string](fmt.Errorf("%w: %v", ErrWrite, err))
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return mo.Err[string](fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return mo.Err[string](fmt.Errorf("%w: %v", ErrWrite, err))
	}
	return mo.Ok(dest)
}

func (m *Materializer) copyLocal(src string) mo.Result[string] {
	fi, err := os.Stat(src)
	if err != nil || fi.IsDir() {
		return mo.Err[string](fmt.Errorf("%w: %s", ErrNotFound, src))
	}

	dest := filepath.Join(m.Dir, filepath.Base(src))
	absSrc, err1 := filepath.Abs(src)
	absDest, err2 := filepath.Abs(dest)
	if err1 == nil && err2 == nil && absSrc == absDest {
		return mo.Ok(dest)
	}

	in, err := os.Open(src)
	if err != nil {
		return mo.Err[string](fmt.Errorf("%w: %s: %v", ErrNotFound, src, err))
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return mo.Err[string](fmt.Errorf("%w: %v", ErrWrite, err))
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return mo.Err[string](fmt.Errorf("%w: %v", ErrWrite, err))
	}
	if err := out.Close(); err != nil {
		return mo.Err[string](fmt.Errorf("%w: %v", ErrWrite, err))
	}
	return mo.Ok(dest)
}

func (m *Materializer) writeFile(name string, data []byte) mo.Result[string] {
	dest := filepath.Join(m.Dir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return mo.Err[string](fmt.Errorf("%w: %v", ErrWrite, err))
	}
	return mo.Ok(dest)
}

// filenameFromURL returns the last path segment of u, or a generated name
// with the default extension when there is none.
func filenameFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err == nil {
		name := path.Base(parsed.Path)
		if name != "" && name != "/" && name != "." && !strings.ContainsAny(name, `\`) {
			return name
		}
	}
	return generatedName()
}

// generatedName is a dashless uuid with the default extension.
func generatedName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + defaultExt
}
