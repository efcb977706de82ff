// Package api exposes ingestion and multimodal search over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/mmkb/internal/auth"
	"github.com/seanblong/mmkb/internal/indexer"
	"github.com/seanblong/mmkb/internal/media"
	"github.com/seanblong/mmkb/pkg/models"
)

const (
	DefaultLimit = 5
	MaxLimit     = 50

	maxUploadMemory = 32 << 20
	searchTimeout   = 10 * time.Second
)

// Ingester indexes a single document already on local disk.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (indexer.IngestResult, error)
}

// Searcher answers a text query against both collections.
type Searcher interface {
	QueryMultimodal(ctx context.Context, q string, k int) (models.MultimodalResult, error)
}

type Server struct {
	Ingester  Ingester
	Searcher  Searcher
	Auth      *auth.Authenticator
	UploadDir string
	// Archive receives a copy of every raw upload. Nil disables mirroring.
	Archive media.Mirror
}

// Handler returns the routed API wrapped in request logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/auth/status", s.handleAuthStatus)
	mux.HandleFunc("/upload", s.Auth.Require(auth.ScopeIngest, s.handleUpload))
	mux.HandleFunc("/search", s.Auth.Require(auth.ScopeSearch, s.handleSearch))

	h := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("dur", dur).
			Msg("request")
	})(mux)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	return hlog.NewHandler(logger)(h)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.Auth.Enabled()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeDetail(w, http.StatusBadRequest, "No filename provided")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil || header == nil {
		writeDetail(w, http.StatusBadRequest, "No filename provided")
		return
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(header.Filename, `\`, "/")))
	if name == "/" || name == "." || strings.TrimSpace(name) == "" {
		writeDetail(w, http.StatusBadRequest, "No filename provided")
		return
	}

	dst, err := s.save(file, name)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("file", name).Msg("upload save failed")
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Upload failed: %v", err))
		return
	}

	if s.Archive != nil {
		if err := s.Archive.PutFile(r.Context(), "uploads/"+name, dst); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("file", name).Msg("upload mirror failed")
		}
	}

	res, err := s.Ingester.IngestFile(r.Context(), dst)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("file", name).Msg("ingest failed")
		switch {
		case errors.Is(err, indexer.ErrParse):
			writeDetail(w, http.StatusInternalServerError, "Parse error: "+err.Error())
		case errors.Is(err, indexer.ErrIndex):
			writeDetail(w, http.StatusInternalServerError, "Vector store error: "+err.Error())
		default:
			writeDetail(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	hlog.FromRequest(r).Info().Str("file", name).
		Int("chunks", res.Chunks).
		Int("points", res.Report.Written).
		Msg("upload indexed")
	writeJSON(w, http.StatusOK, models.UploadResult{Status: "ok", File: name, Chunks: res.Report.Written})
}

// save writes the upload to UploadDir/name, replacing any earlier file.
func (s *Server) save(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(s.UploadDir, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return "", err
	}
	return dst, f.Close()
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	start := time.Now()
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "missing query parameter q")
		return
	}
	k, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()
	res, err := s.Searcher.QueryMultimodal(ctx, q, k)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("q", q).Msg("search failed")
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	res.Texts = sanitize(res.Texts)
	res.Images = sanitize(res.Images)

	writeJSON(w, http.StatusOK, res)
	hlog.FromRequest(r).Info().Str("q", q).Int("limit", k).
		Int("texts", len(res.Texts)).
		Int("images", len(res.Images)).
		Dur("dur", time.Since(start)).
		Msg("served")
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer, got %q", v)
	}
	if n < 1 || n > MaxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, n)
	}
	return n, nil
}

// sanitize zeroes scores JSON cannot encode and never returns nil.
func sanitize(hits []models.Hit) []models.Hit {
	if hits == nil {
		return []models.Hit{}
	}
	for i := range hits {
		if math.IsNaN(hits[i].Score) || math.IsInf(hits[i].Score, 0) {
			hits[i].Score = 0
		}
	}
	return hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}
