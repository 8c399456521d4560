package index

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Vectorizer turns text into embedding vectors.
type Vectorizer interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Embedder generates vector embeddings via an OpenAI-compatible /v1/embeddings API.
type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder creates an embedder for the given API endpoint.
func NewEmbedder(baseURL, apiKey, model string) *Embedder {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Embedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed generates an embedding vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
// Vectors are returned in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, item := range resp.Data {
		pos := item.Index
		if pos < 0 || pos >= len(vectors) {
			pos = i
		}
		vectors[pos] = item.Embedding
	}
	return vectors, nil
}
