package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to a local Ollama instance over its HTTP API. Only the
// embedding endpoint is used by this service.
type Client struct {
	baseURL    string
	embedModel string
	httpClient *http.Client
}

func New(baseURL, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// EmbedBatch embeds a batch of texts in one call, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("ollama embed: empty result")
	}
	return vectors[0], nil
}
