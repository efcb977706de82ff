package ai

import (
	"context"
	"strings"
	"testing"
)

func TestNewVertexAIClient_Configuration(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		config        *ClientConfig
		expectedModel string
		expectedDim   int
	}{
		{
			name:          "with default model",
			config:        &ClientConfig{APIKey: "test-api-key"},
			expectedModel: "text-embedding-005",
			expectedDim:   768,
		},
		{
			name:          "with custom model and dim",
			config:        &ClientConfig{APIKey: "test-api-key", EmbedModel: "gemini-embedding-001", Dim: 256},
			expectedModel: "gemini-embedding-001",
			expectedDim:   256,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewVertexAIClient(ctx, tt.config)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if c.config.EmbedModel != tt.expectedModel {
				t.Errorf("Expected model %q, got %q", tt.expectedModel, c.config.EmbedModel)
			}
			if c.Dim() != tt.expectedDim {
				t.Errorf("Expected dim %d, got %d", tt.expectedDim, c.Dim())
			}
		})
	}
}

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	if _, err := NewVertexAIClient(context.Background(), nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestVertexAIClient_EmbedWithNilClient(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{Dim: 3}}
	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("Expected not initialized error, got %v", err)
	}
}
