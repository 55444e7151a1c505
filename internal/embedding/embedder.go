package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// modelDimensions lists the output sizes of the supported OpenAI models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
// It implements exponential backoff on rate limit errors.
type OpenAIEmbedder struct {
	client *Client
	model  string
	dim    int
}

// NewOpenAIEmbedder creates an embedder for the given model.
// An empty model selects DefaultModel.
func NewOpenAIEmbedder(client *Client, model string) (*OpenAIEmbedder, error) {
	if model == "" {
		model = DefaultModel
	}
	dim, ok := modelDimensions[model]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding model %q", model)
	}
	return &OpenAIEmbedder{
		client: client,
		model:  model,
		dim:    dim,
	}, nil
}

// ModelID identifies the model in persisted index metadata.
func (e *OpenAIEmbedder) ModelID() string {
	return "openai/" + e.model
}

// Dimension returns the vector size produced by the model.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// Close releases the embedder. The HTTP client needs no teardown.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// Embed generates embeddings for a single request batch.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors are treated as permanent and fail immediately.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // Will retry with backoff
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		// Convert float64 to float32 for storage compatibility
		embeddings = make([][]float32, len(resp.Data))
		for _, data := range resp.Data {
			if int(data.Index) < 0 || int(data.Index) >= len(texts) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", data.Index))
			}
			if len(data.Embedding) != e.dim {
				return backoff.Permanent(fmt.Errorf("model returned %d dimensions, expected %d", len(data.Embedding), e.dim))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

var _ Embedder = (*OpenAIEmbedder)(nil)
