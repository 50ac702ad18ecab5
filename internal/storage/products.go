package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveProduct inserts an unknown product or updates a known one. Unchanged
// attributes leave the row untouched, including updated_at. It reports
// whether anything was written.
func (s *Store) SaveProduct(ctx context.Context, tx *gorm.DB, p *Product) (bool, error) {
	t := s.conn(ctx, tx)

	var existing Product
	err := t.Omit(clause.Associations).First(&existing, p.ID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := t.Omit(clause.Associations).Create(p).Error; err != nil {
			return false, fmt.Errorf("insert product %d: %w", p.ID, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("load product %d: %w", p.ID, err)
	}

	if reflect.DeepEqual(existing.ProductAttributes, p.ProductAttributes) {
		p.CreatedAt, p.UpdatedAt = existing.CreatedAt, existing.UpdatedAt
		return false, nil
	}

	p.CreatedAt = existing.CreatedAt
	if err := t.Model(&Product{ID: p.ID}).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(p).Error; err != nil {
		return false, fmt.Errorf("update product %d: %w", p.ID, err)
	}
	return true, nil
}

// UpsertFeatures creates features by id or refreshes their names.
func (s *Store) UpsertFeatures(ctx context.Context, tx *gorm.DB, features []Feature) error {
	if len(features) == 0 {
		return nil
	}
	return s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&features).Error
}

// SetProductFeatures makes featureIDs the product's exact feature set.
// Existing links are kept, missing ones inserted once, stale ones removed.
func (s *Store) SetProductFeatures(ctx context.Context, tx *gorm.DB, productID int64, featureIDs []int64) error {
	t := s.conn(ctx, tx)

	stale := t.Where("product_id = ?", productID)
	if len(featureIDs) > 0 {
		stale = stale.Where("feature_id NOT IN ?", featureIDs)
	}
	if err := stale.Delete(&ProductFeature{}).Error; err != nil {
		return fmt.Errorf("detach features of %d: %w", productID, err)
	}
	if len(featureIDs) == 0 {
		return nil
	}

	rows := make([]ProductFeature, 0, len(featureIDs))
	seen := make(map[int64]bool, len(featureIDs))
	for _, id := range featureIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, ProductFeature{ProductID: productID, FeatureID: id})
	}
	return t.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// UpsertProductCategory records the product's rank in a category listing,
// overwriting any earlier rank for the same pair.
func (s *Store) UpsertProductCategory(ctx context.Context, tx *gorm.DB, link *ProductCategory) error {
	return s.conn(ctx, tx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "category_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sort_pos"}),
		}).
		Create(link).Error
}

func withRelations(t *gorm.DB) *gorm.DB {
	return t.
		Preload("Features", func(db *gorm.DB) *gorm.DB { return db.Order("features.id") }).
		Preload("Categories", func(db *gorm.DB) *gorm.DB { return db.Order("category_id") })
}

// GetProduct returns a product with its features and category links.
func (s *Store) GetProduct(ctx context.Context, tx *gorm.DB, id int64) (*Product, error) {
	var p Product
	if err := withRelations(s.conn(ctx, tx)).First(&p, id).Error; err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

// LoadProducts returns the products with the given ids, features and category
// links preloaded, in the order of ids. Unknown ids are skipped.
func (s *Store) LoadProducts(ctx context.Context, ids []int64) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Product
	if err := withRelations(s.conn(ctx, nil)).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]Product, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}
	out := make([]Product, 0, len(rows))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	return out, nil
}

// ProductsWithoutEmbedding returns up to limit products with id > afterID that
// have no embedding yet, ordered by id.
func (s *Store) ProductsWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]Product, error) {
	var out []Product
	err := withRelations(s.conn(ctx, nil)).
		Where("NOT EXISTS (SELECT 1 FROM product_embeddings e WHERE e.product_id = products.id)").
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProductAvailability returns is_available for the given product ids.
func (s *Store) ProductAvailability(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID          int64
		IsAvailable bool
	}
	if err := s.conn(ctx, nil).Model(&Product{}).Select("id, is_available").Where("id IN ?", ids).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.IsAvailable
	}
	return out, nil
}

// EmbeddedProductIDs pages through ids of products that have an embedding.
func (s *Store) EmbeddedProductIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := s.conn(ctx, nil).Model(&ProductEmbedding{}).
		Where("product_id > ?", afterID).
		Order("product_id").
		Limit(limit).
		Pluck("product_id", &ids).Error
	return ids, err
}
