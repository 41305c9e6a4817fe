// Package ollama provides an Ollama-backed embedding client. The model is
// warmed lazily on first use; concurrent first callers share one warm-up
// through singleflight so the model is never loaded twice.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agentmesh/agentsearch/engine/domain"
)

// warmProbeText is embedded once during warm-up to force the server-side
// model load and learn the embedding dimension.
const warmProbeText = "warmup"

// EmbedClient generates embeddings via Ollama's HTTP API. Safe for
// concurrent use.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client

	flight singleflight.Group
	mu     sync.RWMutex
	dims   int
	warm   bool
}

// NewEmbedClient creates an Ollama embedding client. dims may be zero, in
// which case the dimension is learned from the warm-up probe.
func NewEmbedClient(baseURL, model string, dims int) *EmbedClient {
	return &EmbedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		dims:    dims,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *EmbedClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w: %w", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// ensureWarm performs the one-time model warm-up. Concurrent first callers
// coalesce into a single probe; later callers return immediately.
func (c *EmbedClient) ensureWarm(ctx context.Context) error {
	c.mu.RLock()
	warm := c.warm
	c.mu.RUnlock()
	if warm {
		return nil
	}

	_, err, _ := c.flight.Do("warm", func() (any, error) {
		c.mu.RLock()
		warm := c.warm
		c.mu.RUnlock()
		if warm {
			return nil, nil
		}

		vec, err := c.embed(ctx, warmProbeText)
		if err != nil {
			return nil, fmt.Errorf("ollama warm-up: %w", err)
		}

		c.mu.Lock()
		if c.dims == 0 {
			c.dims = len(vec)
		}
		c.warm = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// Embed generates the embedding for a single text. Blank text is a caller
// error, never coerced into an empty vector.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := domain.ValidateEmbedText(text); err != nil {
		return nil, err
	}
	if err := c.ensureWarm(ctx); err != nil {
		return nil, err
	}
	return c.embed(ctx, text)
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.ensureWarm(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := domain.ValidateEmbedText(text); err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		vec, err := c.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension, or zero before warm-up when no
// dimension was configured.
func (c *EmbedClient) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

// ModelName returns the configured model identifier.
func (c *EmbedClient) ModelName() string { return c.model }

// Available reports whether the Ollama server answers at all.
func (c *EmbedClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
