package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CLIPClient talks to a CLIP inference server that exposes
//
//	POST /embed/text   {"texts": ["..."]}
//	POST /embed/image  {"images": ["<base64>"]}
//
// both answering {"embeddings": [[...], ...]}.
type CLIPClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewCLIPClient(config *ClientConfig) (*CLIPClient, error) {
	if strings.TrimSpace(config.ClipURL) == "" {
		return nil, errors.New("clip url is required for the clip image provider")
	}
	if config.ImageDim == 0 {
		// clip-vit-base-patch32
		config.ImageDim = 512
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CLIPClient{
		config: config,
		http:   &http.Client{Timeout: timeout},
	}, nil
}

func (c *CLIPClient) EmbedTextsForImageSpace(ctx context.Context, texts []string) ([][]float32, error) {
	return c.post(ctx, "/embed/text", map[string]any{"texts": texts})
}

// EmbedImage decodes the image locally before sending it so corrupt files
// fail without a round trip.
func (c *CLIPClient) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	b, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	vecs, err := c.post(ctx, "/embed/image", map[string]any{
		"images": []string{base64.StdEncoding.EncodeToString(b)},
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: 1 image, %d vectors", ErrBatchMismatch, len(vecs))
	}
	return vecs[0], nil
}

func (c *CLIPClient) Dim() int {
	return c.config.ImageDim
}

func (c *CLIPClient) post(ctx context.Context, endpoint string, payload any) ([][]float32, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.config.ClipURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Detail != "" {
			return nil, fmt.Errorf("clip %s: %s", endpoint, e.Detail)
		}
		return nil, fmt.Errorf("clip %s: %s", endpoint, resp.Status)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}
