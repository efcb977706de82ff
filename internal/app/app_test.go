package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanblong/mmkb/internal/ai"
	"github.com/seanblong/mmkb/internal/config"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func testConfig(t *testing.T) config.Specification {
	t.Helper()
	return config.Specification{
		Provider:           "stub",
		ImageProvider:      "stub",
		TextDim:            128,
		ImageDim:           32,
		VectorStore:        "memory",
		TextCollection:     "text_chunks",
		ImageCollection:    "image_chunks",
		DataDir:            t.TempDir(),
		MinParagraphLength: 10,
		FetchTimeout:       time.Second,
	}
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		name          string
		provider      string
		imageProvider string
		expectText    ai.Provider
		expectImage   ai.Provider
		expectError   bool
	}{
		{"stub", "stub", "stub", ai.ProviderStub, ai.ProviderStub, false},
		{"empty defaults to stub", "", "", ai.ProviderStub, ai.ProviderStub, false},
		{"openai and clip", "OpenAI", "clip", ai.ProviderOpenAI, ai.ProviderCLIP, false},
		{"google alias", "google", "stub", ai.ProviderVertexAI, ai.ProviderStub, false},
		{"unknown text provider", "cohere", "stub", "", "", true},
		{"unknown image provider", "stub", "blip", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Specification{Provider: tt.provider, ImageProvider: tt.imageProvider, TextDim: 10, ImageDim: 20, EmbedWorkers: 3}
			cc, err := ClientConfig(cfg)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cc.Provider != tt.expectText || cc.ImageProvider != tt.expectImage {
				t.Errorf("Expected providers %s/%s, got %s/%s", tt.expectText, tt.expectImage, cc.Provider, cc.ImageProvider)
			}
			if cc.Dim != 10 || cc.ImageDim != 20 || cc.Workers != 3 {
				t.Errorf("Expected settings to carry over, got %+v", cc)
			}
		})
	}
}

func TestNew_MemoryStub(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Archive != nil || a.Mirror() != nil {
		t.Error("Expected archive to be disabled")
	}

	src := filepath.Join(t.TempDir(), "docs")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "Penguins huddle together for warmth.\n\nCompilers translate source code."
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	sum, err := a.Indexer.Run(ctx, src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Files != 1 || sum.Failed != 0 || sum.Points != 2 {
		t.Errorf("Unexpected summary %+v", sum)
	}
	if n, _ := a.Index.Count(ctx, cfg.TextCollection); n != 2 {
		t.Errorf("Expected 2 text points, got %d", n)
	}

	// the extracted copy lands under the data dir
	if _, err := os.Stat(filepath.Join(cfg.ExtractedDir(), "notes.txt.txt")); err != nil {
		t.Errorf("Expected extracted artifact: %v", err)
	}

	res, err := a.Search.QueryMultimodal(ctx, "penguins", 1)
	if err != nil {
		t.Fatalf("QueryMultimodal failed: %v", err)
	}
	if len(res.Texts) != 1 {
		t.Fatalf("Expected 1 text hit, got %d", len(res.Texts))
	}
	if text, _ := res.Texts[0].Payload["text"].(string); !strings.Contains(text, "Penguins") {
		t.Errorf("Expected penguin paragraph, got %q", text)
	}
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Provider = "nope"
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected error for unknown provider")
	}

	cfg = testConfig(t)
	cfg.TextDim = 0
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected error for zero text dimension")
	}

	cfg = testConfig(t)
	cfg.VectorStore = "redis"
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected error for unknown vector store")
	}

	cfg = testConfig(t)
	cfg.Archive.Enabled = true
	if _, err := New(ctx, cfg); err == nil {
		t.Error("Expected error for archive without endpoint")
	}
}
