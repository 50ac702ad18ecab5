// Package embedding turns texts into fixed-dimension vectors via an
// OpenAI-compatible embedding service.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/metheoryt/arbuz-concierge/internal/logger"
)

const (
	// DefaultModel is the embedding model used for products and queries.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector size of DefaultModel.
	DefaultDimension = 1536

	// DefaultBatchSize caps texts per request. The service accepts up to 2048
	// but smaller batches keep token-per-minute pressure down.
	DefaultBatchSize = 500
)

// Embedder maps texts to vectors, one per text and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls the embeddings endpoint in batches and backs off on
// rate limiting.
type OpenAIEmbedder struct {
	client       *Client
	model        string
	batchSize    int
	retryInitial time.Duration
	maxElapsed   time.Duration
	log          *logger.Logger
}

// NewOpenAIEmbedder creates an embedder. Empty model and non-positive batch
// size fall back to the defaults.
func NewOpenAIEmbedder(client *Client, model string, batchSize int, log *logger.Logger) *OpenAIEmbedder {
	if model == "" {
		model = DefaultModel
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OpenAIEmbedder{
		client:       client,
		model:        model,
		batchSize:    batchSize,
		retryInitial: 500 * time.Millisecond,
		maxElapsed:   30 * time.Second,
		log:          logger.OrNop(log).With("component", "embedder"),
	}
}

// Model returns the model name sent with every request.
func (e *OpenAIEmbedder) Model() string { return e.model }

// BatchSize returns the maximum number of texts per request.
func (e *OpenAIEmbedder) BatchSize() int { return e.batchSize }

// Embed returns one vector per text. An empty input makes no request.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vecs, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedBatchWithRetry retries rate-limited requests with exponential backoff.
// Any other failure is permanent.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		data := resp.Data
		sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		vecs = make([][]float32, len(data))
		for i, d := range data {
			vecs[i] = toFloat32(d.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.maxElapsed

	notify := func(err error, wait time.Duration) {
		e.log.Warn("embedding request rate limited", "texts", len(texts), "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return vecs, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
