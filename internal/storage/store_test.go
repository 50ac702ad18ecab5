package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/metheoryt/arbuz-concierge/internal/storage"
	"github.com/metheoryt/arbuz-concierge/internal/storage/storagetest"
)

var ptr = storagetest.Ptr[int64]

func TestUpsertCategory_RequiresParent(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	err := st.UpsertCategory(ctx, nil, &storage.Category{ID: 2, Name: "child", ParentID: ptr(1)})
	assert.ErrorIs(t, err, storage.ErrParentMissing)

	// a parent written earlier in the same transaction is visible
	err = st.Transaction(ctx, func(tx *gorm.DB) error {
		if err := st.UpsertCategory(ctx, tx, &storage.Category{ID: 1, Name: "root"}); err != nil {
			return err
		}
		return st.UpsertCategory(ctx, tx, &storage.Category{ID: 2, Name: "child", ParentID: ptr(1)})
	})
	require.NoError(t, err)
}

func TestUpsertCategory_KeepsRefreshStamp(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedCategory(t, st, 1, "Молочка", nil)
	stamp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkCategoryRefreshed(ctx, nil, 1, stamp))

	require.NoError(t, st.UpsertCategory(ctx, nil, &storage.Category{ID: 1, Name: "Молочные продукты", URI: "/c/1"}))

	c, err := st.GetCategory(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "Молочные продукты", c.Name)
	require.NotNil(t, c.RefreshedAt)
	assert.True(t, stamp.Equal(*c.RefreshedAt))

	_, err = st.GetCategory(ctx, nil, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, st.MarkCategoryRefreshed(ctx, nil, 404, stamp), storage.ErrNotFound)
}

func TestListCategoriesForRefresh_OldestFirst(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedCategory(t, st, 1, "root", nil)
	for _, id := range []int64{10, 11, 12, 13} {
		storagetest.SeedCategory(t, st, id, "leaf", ptr(1))
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkCategoryRefreshed(ctx, nil, 10, base.Add(2*time.Hour)))
	require.NoError(t, st.MarkCategoryRefreshed(ctx, nil, 11, base.Add(time.Hour)))

	leaves, err := st.ListCategoriesForRefresh(ctx, storage.RefreshQuery{LeavesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 13, 11, 10}, categoryIDs(leaves))

	all, err := st.ListCategoriesForRefresh(ctx, storage.RefreshQuery{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 12, 13}, categoryIDs(all))
}

func TestCategoryTree_Breadcrumbs(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedCategory(t, st, 1, "Продукты", nil)
	storagetest.SeedCategory(t, st, 2, "Молочка", ptr(1))
	storagetest.SeedCategory(t, st, 3, "Молоко", ptr(2))
	storagetest.SeedCategory(t, st, 4, "Пастеризованное", ptr(3))
	storagetest.SeedCategory(t, st, 5, "Ультрапастеризованное", ptr(4))

	full, err := st.LoadCategoryTree(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Продукты > Молочка > Молоко > Пастеризованное > Ультрапастеризованное", full.Breadcrumb(5))
	assert.Equal(t, "Продукты", full.Breadcrumb(1))
	assert.Empty(t, full.Breadcrumb(99))

	bounded, err := st.LoadCategoryChains(ctx, []int64{5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, bounded.Len())
	assert.Equal(t, "Молочка > Молоко > Пастеризованное > Ультрапастеризованное", bounded.Breadcrumb(5))
}

func TestSaveProduct_UnchangedLeavesRowAlone(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	p := &storage.Product{ID: 7, ProductAttributes: storage.ProductAttributes{
		Name:        "Кефир 2,5%",
		PriceActual: 540,
		IsAvailable: true,
		BrandName:   storagetest.Ptr("Фудмастер"),
	}}
	changed, err := st.SaveProduct(ctx, nil, p)
	require.NoError(t, err)
	assert.True(t, changed)

	first, err := st.GetProduct(ctx, nil, 7)
	require.NoError(t, err)

	again := &storage.Product{ID: 7, ProductAttributes: first.ProductAttributes}
	changed, err = st.SaveProduct(ctx, nil, again)
	require.NoError(t, err)
	assert.False(t, changed)

	second, err := st.GetProduct(ctx, nil, 7)
	require.NoError(t, err)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))

	updated := &storage.Product{ID: 7, ProductAttributes: first.ProductAttributes}
	updated.PriceActual = 560
	updated.BrandName = nil
	changed, err = st.SaveProduct(ctx, nil, updated)
	require.NoError(t, err)
	assert.True(t, changed)

	third, err := st.GetProduct(ctx, nil, 7)
	require.NoError(t, err)
	assert.Equal(t, 560.0, third.PriceActual)
	assert.Nil(t, third.BrandName)
	assert.True(t, first.CreatedAt.Equal(third.CreatedAt))
}

func TestSetProductFeatures_ExactSet(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedProduct(t, st, &storage.Product{ID: 1, ProductAttributes: storage.ProductAttributes{Name: "Йогурт"}})
	require.NoError(t, st.UpsertFeatures(ctx, nil, []storage.Feature{{ID: 3, Name: "без сахара"}, {ID: 1, Name: "био"}, {ID: 2, Name: "фермерское"}}))

	require.NoError(t, st.SetProductFeatures(ctx, nil, 1, []int64{3, 1, 1}))
	require.NoError(t, st.SetProductFeatures(ctx, nil, 1, []int64{3, 1}))
	p, err := st.GetProduct(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"био", "без сахара"}, featureNames(p.Features))

	require.NoError(t, st.SetProductFeatures(ctx, nil, 1, []int64{2}))
	p, err = st.GetProduct(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"фермерское"}, featureNames(p.Features))

	require.NoError(t, st.SetProductFeatures(ctx, nil, 1, nil))
	p, err = st.GetProduct(ctx, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, p.Features)
}

func TestUpsertProductCategory_OneLinkPerPair(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedCategory(t, st, 10, "A", nil)
	storagetest.SeedCategory(t, st, 20, "B", nil)
	storagetest.SeedProduct(t, st, &storage.Product{ID: 1, ProductAttributes: storage.ProductAttributes{Name: "Сыр"}})

	require.NoError(t, st.UpsertProductCategory(ctx, nil, &storage.ProductCategory{ProductID: 1, CategoryID: 10, SortPos: 5}))
	require.NoError(t, st.UpsertProductCategory(ctx, nil, &storage.ProductCategory{ProductID: 1, CategoryID: 20, SortPos: 41}))
	require.NoError(t, st.UpsertProductCategory(ctx, nil, &storage.ProductCategory{ProductID: 1, CategoryID: 10, SortPos: 2}))

	p, err := st.GetProduct(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, p.Categories, 2)
	assert.Equal(t, storage.ProductCategory{ProductID: 1, CategoryID: 10, SortPos: 2}, stripCategory(p.Categories[0]))
	assert.Equal(t, storage.ProductCategory{ProductID: 1, CategoryID: 20, SortPos: 41}, stripCategory(p.Categories[1]))
}

func TestLoadProducts_PreservesRequestOrder(t *testing.T) {
	st := storagetest.NewStore(t)
	for _, id := range []int64{1, 2, 3} {
		storagetest.SeedProduct(t, st, &storage.Product{ID: id, ProductAttributes: storage.ProductAttributes{Name: "p"}})
	}

	got, err := st.LoadProducts(context.Background(), []int64{3, 99, 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
}

func TestCreateEmbeddings_AtMostOnePerProduct(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()
	storagetest.SeedProduct(t, st, &storage.Product{ID: 1, ProductAttributes: storage.ProductAttributes{Name: "p"}})

	first := []storage.ProductEmbedding{{ProductID: 1, Text: "one", Vector: pgvector.NewVector([]float32{1, 0, 0})}}
	require.NoError(t, st.CreateEmbeddings(ctx, nil, first))

	second := []storage.ProductEmbedding{{ProductID: 1, Text: "two", Vector: pgvector.NewVector([]float32{0, 1, 0})}}
	require.NoError(t, st.CreateEmbeddings(ctx, nil, second))

	e, err := st.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "one", e.Text)
	assert.Equal(t, []float32{1, 0, 0}, e.Vector.Slice())

	bad := []storage.ProductEmbedding{{ProductID: 1, Text: "bad", Vector: pgvector.NewVector([]float32{1, 0})}}
	assert.ErrorIs(t, st.CreateEmbeddings(ctx, nil, bad), storage.ErrDimensionMismatch)

	var n int64
	require.NoError(t, st.DB().Model(&storage.ProductEmbedding{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestProductsWithoutEmbedding_Keyset(t *testing.T) {
	st := storagetest.NewStore(t)
	for _, id := range []int64{1, 2, 3, 4} {
		storagetest.SeedProduct(t, st, &storage.Product{ID: id, ProductAttributes: storage.ProductAttributes{Name: "p"}})
	}
	storagetest.SeedEmbedding(t, st, 2, 1, 0, 0)

	page, err := st.ProductsWithoutEmbedding(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, productIDs(page))

	page, err = st.ProductsWithoutEmbedding(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, productIDs(page))
}

func TestNearestAvailable_Scan(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedProduct(t, st, &storage.Product{ID: 1, ProductAttributes: storage.ProductAttributes{Name: "a", IsAvailable: true}})
	storagetest.SeedProduct(t, st, &storage.Product{ID: 2, ProductAttributes: storage.ProductAttributes{Name: "b", IsAvailable: true}})
	storagetest.SeedProduct(t, st, &storage.Product{ID: 3, ProductAttributes: storage.ProductAttributes{Name: "c", IsAvailable: false}})
	storagetest.SeedProduct(t, st, &storage.Product{ID: 4, ProductAttributes: storage.ProductAttributes{Name: "d", IsAvailable: true}})
	storagetest.SeedEmbedding(t, st, 1, 0, 1, 0)
	storagetest.SeedEmbedding(t, st, 2, 1, 0.1, 0)
	storagetest.SeedEmbedding(t, st, 3, 1, 0, 0)
	storagetest.SeedEmbedding(t, st, 4, 0, 1, 0)

	hits, err := st.NearestAvailable(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(2), hits[0].ProductID)
	assert.Equal(t, []int64{1, 4}, []int64{hits[1].ProductID, hits[2].ProductID}, "equal distances tie on id")
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)

	hits, err = st.NearestAvailable(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = st.NearestAvailable(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, storage.CosineDistance([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 1, storage.CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, storage.CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 1.0, storage.CosineDistance([]float32{0, 0}, []float32{0, 1}))
}

func TestStatus(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	storagetest.SeedCategory(t, st, 1, "root", nil)
	storagetest.SeedCategory(t, st, 2, "leaf", ptr(1))
	stamp := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkCategoryRefreshed(ctx, nil, 2, stamp))
	storagetest.SeedProduct(t, st, &storage.Product{ID: 1, ProductAttributes: storage.ProductAttributes{Name: "a", IsAvailable: true}})
	storagetest.SeedProduct(t, st, &storage.Product{ID: 2, ProductAttributes: storage.ProductAttributes{Name: "b"}})
	storagetest.SeedEmbedding(t, st, 1, 1, 0, 0)

	s, err := st.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Categories)
	assert.Equal(t, int64(1), s.LeafCategories)
	assert.Equal(t, int64(1), s.NeverRefreshed)
	assert.Equal(t, int64(2), s.Products)
	assert.Equal(t, int64(1), s.AvailableProducts)
	assert.Equal(t, int64(1), s.Embeddings)
	require.NotNil(t, s.OldestRefresh)
	assert.True(t, stamp.Equal(*s.OldestRefresh))
}

func categoryIDs(cats []storage.Category) []int64 {
	out := make([]int64, len(cats))
	for i, c := range cats {
		out[i] = c.ID
	}
	return out
}

func productIDs(ps []storage.Product) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func featureNames(fs []storage.Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func stripCategory(pc storage.ProductCategory) storage.ProductCategory {
	pc.Category = storage.Category{}
	return pc
}

func TestCrawlCheckpoint_SaveReplaceClear(t *testing.T) {
	st := storagetest.NewStore(t)
	ctx := context.Background()

	row, err := st.LoadCrawlCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveCrawlCheckpoint(ctx, []byte(`[{"category":{"id":1}}]`), at))
	require.NoError(t, st.SaveCrawlCheckpoint(ctx, []byte(`[{"category":{"id":2}}]`), at.Add(time.Minute)))

	row, err = st.LoadCrawlCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.JSONEq(t, `[{"category":{"id":2}}]`, string(row.Frames))
	assert.True(t, row.SavedAt.Equal(at.Add(time.Minute)))

	require.NoError(t, st.ClearCrawlCheckpoint(ctx))
	row, err = st.LoadCrawlCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
}
