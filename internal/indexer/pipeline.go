// Package indexer embeds the text projection of every product that has no
// embedding yet and optionally mirrors the vectors into Qdrant.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/metheoryt/arbuz-concierge/internal/embedding"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/projection"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// DefaultBatchSize is the number of products embedded per service call.
const DefaultBatchSize = 100

// ErrServiceMismatch means the embedding service returned a different number
// of vectors than texts sent, or a vector of the wrong dimension.
var ErrServiceMismatch = errors.New("embedding service response does not match request")

// Mirror receives committed embeddings. storage.QdrantIndex implements it.
type Mirror interface {
	UpsertEmbeddings(ctx context.Context, rows []storage.ProductEmbedding, available map[int64]bool) error
}

// IndexResult contains statistics about an embedding run.
type IndexResult struct {
	Batches        int
	Embedded       int
	FailedBatches  []FailedBatch
	Mirrored       int
	MirrorFailures int
	Duration       time.Duration
}

// FailedBatch is a batch whose embeddings were not stored. Its products stay
// without an embedding and are picked up by the next run.
type FailedBatch struct {
	FirstID  int64
	LastID   int64
	Products int
	Reason   string
}

// Pipeline orchestrates projection, embedding and storage.
type Pipeline struct {
	store     *storage.Store
	embedder  embedding.Embedder
	mirror    Mirror
	batchSize int
	logger    *logger.Logger
}

// NewPipeline creates a pipeline. mirror may be nil.
func NewPipeline(store *storage.Store, embedder embedding.Embedder, mirror Mirror, batchSize int, log *logger.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		mirror:    mirror,
		batchSize: batchSize,
		logger:    logger.OrNop(log).With("component", "indexer"),
	}
}

// EmbedMissing embeds every product without an embedding, batch by batch in
// id order. A failed batch is recorded and the run moves on; only context
// cancellation and store read failures stop it early.
func (p *Pipeline) EmbedMissing(ctx context.Context) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	tree, err := p.store.LoadCategoryTree(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load category tree: %w", err)
	}

	var cursor int64
	for {
		products, err := p.store.ProductsWithoutEmbedding(ctx, cursor, p.batchSize)
		if err != nil {
			return result, fmt.Errorf("list products without embedding: %w", err)
		}
		if len(products) == 0 {
			break
		}
		first, last := products[0].ID, products[len(products)-1].ID
		cursor = last
		result.Batches++

		rows, err := p.embedBatch(ctx, products, tree)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			p.logger.Warn("Failed to embed batch", "first_id", first, "last_id", last, "error", err)
			result.FailedBatches = append(result.FailedBatches, FailedBatch{
				FirstID:  first,
				LastID:   last,
				Products: len(products),
				Reason:   err.Error(),
			})
			continue
		}
		result.Embedded += len(rows)
		p.logger.Debug("Embedded batch", "first_id", first, "last_id", last, "products", len(rows))

		if p.mirror != nil {
			available := make(map[int64]bool, len(products))
			for _, prod := range products {
				available[prod.ID] = prod.IsAvailable
			}
			if err := p.mirror.UpsertEmbeddings(ctx, rows, available); err != nil {
				result.MirrorFailures++
				p.logger.Warn("Failed to mirror batch", "first_id", first, "last_id", last, "error", err)
			} else {
				result.Mirrored += len(rows)
			}
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("Embedding complete",
		"batches", result.Batches,
		"embedded", result.Embedded,
		"failed", len(result.FailedBatches),
		"duration", result.Duration,
	)
	return result, nil
}

// embedBatch projects, embeds and stores one batch in a single transaction.
func (p *Pipeline) embedBatch(ctx context.Context, products []storage.Product, tree projection.Breadcrumbs) ([]storage.ProductEmbedding, error) {
	texts := make([]string, len(products))
	for i := range products {
		texts[i] = projection.Project(&products[i], tree)
	}

	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %d vectors for %d texts", ErrServiceMismatch, len(vecs), len(texts))
	}

	dim := p.store.Dimension()
	rows := make([]storage.ProductEmbedding, len(products))
	for i, vec := range vecs {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: product %d got %d dimensions, expected %d",
				ErrServiceMismatch, products[i].ID, len(vec), dim)
		}
		rows[i] = storage.ProductEmbedding{
			ProductID: products[i].ID,
			Text:      texts[i],
			Vector:    pgvector.NewVector(vec),
		}
	}

	err = p.store.Transaction(ctx, func(tx *gorm.DB) error {
		return p.store.CreateEmbeddings(ctx, tx, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("store embeddings: %w", err)
	}
	return rows, nil
}
