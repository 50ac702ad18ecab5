// Package storagetest provides an in-memory SQLite store and seed helpers.
package storagetest

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// Dimension is the vector size of test stores.
const Dimension = 3

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// NewStore opens a migrated in-memory store private to the test.
func NewStore(tb testing.TB) *storage.Store {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", unsafeName.ReplaceAllString(tb.Name(), "_"))
	st, err := storage.Open(storage.Options{
		Driver:    storage.DriverSQLite,
		DSN:       dsn,
		Dimension: Dimension,
	}, logger.Nop())
	if err != nil {
		tb.Fatalf("open store: %v", err)
	}
	tb.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return st
}

// SeedCategory upserts a category.
func SeedCategory(tb testing.TB, st *storage.Store, id int64, name string, parent *int64) *storage.Category {
	tb.Helper()
	c := &storage.Category{ID: id, Name: name, URI: fmt.Sprintf("/catalog/%d", id), ParentID: parent}
	if err := st.UpsertCategory(context.Background(), nil, c); err != nil {
		tb.Fatalf("seed category %d: %v", id, err)
	}
	return c
}

// SeedProduct saves a product with optional features and category links.
func SeedProduct(tb testing.TB, st *storage.Store, p *storage.Product) *storage.Product {
	tb.Helper()
	ctx := context.Background()
	if _, err := st.SaveProduct(ctx, nil, p); err != nil {
		tb.Fatalf("seed product %d: %v", p.ID, err)
	}
	if len(p.Features) > 0 {
		ids := make([]int64, len(p.Features))
		for i, f := range p.Features {
			ids[i] = f.ID
		}
		if err := st.UpsertFeatures(ctx, nil, p.Features); err != nil {
			tb.Fatalf("seed features: %v", err)
		}
		if err := st.SetProductFeatures(ctx, nil, p.ID, ids); err != nil {
			tb.Fatalf("seed product features: %v", err)
		}
	}
	for i := range p.Categories {
		link := p.Categories[i]
		link.ProductID = p.ID
		if err := st.UpsertProductCategory(ctx, nil, &link); err != nil {
			tb.Fatalf("seed product category: %v", err)
		}
	}
	return p
}

// SeedEmbedding stores a vector for a product.
func SeedEmbedding(tb testing.TB, st *storage.Store, productID int64, vec ...float32) {
	tb.Helper()
	err := st.CreateEmbeddings(context.Background(), nil, []storage.ProductEmbedding{{
		ProductID: productID,
		Text:      fmt.Sprintf("product %d", productID),
		Vector:    pgvector.NewVector(vec),
	}})
	if err != nil {
		tb.Fatalf("seed embedding %d: %v", productID, err)
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
