package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/metheoryt/arbuz-concierge/internal/logger"
)

// DefaultCollection is the Qdrant collection mirroring product embeddings.
const DefaultCollection = "products"

// QdrantIndex mirrors product embeddings into Qdrant for nearest-neighbor
// search. Point ids are product ids; the payload carries availability so
// searches can pre-filter on it.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int
	log        *logger.Logger
}

// QdrantOptions configures NewQdrantIndex.
type QdrantOptions struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// NewQdrantIndex connects to Qdrant over gRPC and fails fast if it stays
// unreachable through the startup health check.
func NewQdrantIndex(opts QdrantOptions, log *logger.Logger) (*QdrantIndex, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Dimension <= 0 {
		opts.Dimension = VectorDimension
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: opts.Host,
		Port: opts.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: opts.Collection,
		dim:        opts.Dimension,
		log:        logger.OrNop(log).With("service", "QdrantIndex"),
	}

	if err := idx.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return idx, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return q.Health(ctx) }, backoff.WithContext(newBackoff(), ctx))
}

// Health performs a single health check against Qdrant.
func (q *QdrantIndex) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with cosine vectors and payload
// indexes if it does not exist yet.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	indexes := map[string]qdrant.FieldType{
		"is_available": qdrant.FieldType_FieldTypeBool,
		"product_id":   qdrant.FieldType_FieldTypeInteger,
	}
	for field, typ := range indexes {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      typ.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	q.log.Info("Created collection", "collection", q.collection, "dimension", q.dim)
	return nil
}

// ClearCollection drops and recreates the collection.
func (q *QdrantIndex) ClearCollection(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return q.EnsureCollection(ctx)
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

func (q *QdrantIndex) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(newBackoff(), ctx))
}

// UpsertEmbeddings writes embeddings as points in batches of 100. Products
// missing from available are stored as unavailable.
func (q *QdrantIndex) UpsertEmbeddings(ctx context.Context, rows []ProductEmbedding, available map[int64]bool) error {
	for _, r := range rows {
		if got := len(r.Vector.Slice()); got != q.dim {
			return fmt.Errorf("%w: product %d has %d dimensions, expected %d",
				ErrDimensionMismatch, r.ProductID, got, q.dim)
		}
	}

	const batchSize = 100
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, r := range rows[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(r.ProductID)),
				Vectors: qdrant.NewVectors(r.Vector.Slice()...),
				Payload: qdrant.NewValueMap(map[string]any{
					"product_id":   r.ProductID,
					"is_available": available[r.ProductID],
				}),
			})
		}
		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// NearestAvailable searches available products by cosine similarity. Qdrant
// scores are similarities, converted here to distances.
func (q *QdrantIndex) NearestAvailable(ctx context.Context, query []float32, limit int) ([]ScoredProduct, error) {
	if len(query) != q.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), q.dim)
	}
	if limit <= 0 {
		return nil, nil
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchBool("is_available", true)},
		},
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(false),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}

	out := make([]ScoredProduct, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredProduct{
			ProductID: int64(r.Id.GetNum()),
			Distance:  1 - float64(r.Score),
		})
	}
	return out, nil
}

// Count returns the number of mirrored points.
func (q *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return n, nil
}
