package embedding

import (
	"context"
	"fmt"

	"lumina/internal/config"
)

// Client adapts EmbedText to memory.Embedder's single-text interface,
// for callers that hold one embedding endpoint config for the process
// lifetime (the RAG context provider, conversation logging).
type Client struct {
	cfg config.EmbeddingConfig
}

// NewClient builds a Client bound to cfg.
func NewClient(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg}
}

// Embed returns the dense vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := EmbedText(ctx, c.cfg, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("embedding: empty response")
	}
	return out[0], nil
}
