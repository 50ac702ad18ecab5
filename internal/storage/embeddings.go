package storage

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateEmbeddings stores new embeddings. A product that already has one keeps
// it; embeddings are never updated in place.
func (s *Store) CreateEmbeddings(ctx context.Context, tx *gorm.DB, rows []ProductEmbedding) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if got := len(r.Vector.Slice()); got != s.dim {
			return fmt.Errorf("%w: product %d has %d dimensions, expected %d",
				ErrDimensionMismatch, r.ProductID, got, s.dim)
		}
	}
	return s.conn(ctx, tx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

// GetEmbedding returns the embedding of a product or ErrNotFound.
func (s *Store) GetEmbedding(ctx context.Context, productID int64) (*ProductEmbedding, error) {
	var e ProductEmbedding
	if err := s.conn(ctx, nil).Where("product_id = ?", productID).First(&e).Error; err != nil {
		return nil, notFound(err, "embedding for product", productID)
	}
	return &e, nil
}

// LoadEmbeddings returns the embeddings of the given products.
func (s *Store) LoadEmbeddings(ctx context.Context, productIDs []int64) ([]ProductEmbedding, error) {
	var out []ProductEmbedding
	if len(productIDs) == 0 {
		return out, nil
	}
	err := s.conn(ctx, nil).Where("product_id IN ?", productIDs).Order("product_id").Find(&out).Error
	return out, err
}

// NearestAvailable returns available products ordered by ascending cosine
// distance to query, ties broken by product id. Postgres uses the pgvector
// index; other drivers compute distances exactly.
func (s *Store) NearestAvailable(ctx context.Context, query []float32, limit int) ([]ScoredProduct, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), s.dim)
	}
	if limit <= 0 {
		return nil, nil
	}
	if s.driver == DriverPostgres {
		return s.nearestPostgres(ctx, query, limit)
	}
	return s.nearestScan(ctx, query, limit)
}

func (s *Store) nearestPostgres(ctx context.Context, query []float32, limit int) ([]ScoredProduct, error) {
	var out []ScoredProduct
	err := s.conn(ctx, nil).Raw(`
		SELECT e.product_id, e.vector <=> ? AS distance
		FROM product_embeddings e
		JOIN products p ON p.id = e.product_id
		WHERE p.is_available
		ORDER BY distance, e.product_id
		LIMIT ?`, pgvector.NewVector(query), limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}
	return out, nil
}

func (s *Store) nearestScan(ctx context.Context, query []float32, limit int) ([]ScoredProduct, error) {
	var rows []struct {
		ProductID int64
		Vector    pgvector.Vector
	}
	err := s.conn(ctx, nil).
		Table("product_embeddings AS e").
		Select("e.product_id, e.vector").
		Joins("JOIN products p ON p.id = e.product_id").
		Where("p.is_available = ?", true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	out := make([]ScoredProduct, 0, len(rows))
	for _, r := range rows {
		out = append(out, ScoredProduct{
			ProductID: r.ProductID,
			Distance:  CosineDistance(query, r.Vector.Slice()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CosineDistance is 1 - cosine similarity, the metric of pgvector's <=>.
// A zero vector is at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Status counts mirrored rows for status reporting.
func (s *Store) Status(ctx context.Context) (*CatalogStatus, error) {
	t := s.conn(ctx, nil)
	st := &CatalogStatus{}

	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&st.Categories, t.Model(&Category{})},
		{&st.LeafCategories, t.Model(&Category{}).Where("NOT EXISTS (SELECT 1 FROM categories AS child WHERE child.parent_id = categories.id)")},
		{&st.NeverRefreshed, t.Model(&Category{}).Where("updated_at IS NULL")},
		{&st.Products, t.Model(&Product{})},
		{&st.AvailableProducts, t.Model(&Product{}).Where("is_available = ?", true)},
		{&st.Embeddings, t.Model(&ProductEmbedding{})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("catalog status: %w", err)
		}
	}

	var oldest Category
	err := t.Where("updated_at IS NOT NULL").Order("updated_at ASC").Limit(1).Find(&oldest).Error
	if err != nil {
		return nil, fmt.Errorf("catalog status: %w", err)
	}
	st.OldestRefresh = oldest.RefreshedAt
	return st, nil
}
