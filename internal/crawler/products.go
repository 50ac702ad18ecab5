package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/metheoryt/arbuz-concierge/internal/catalog"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// DefaultPageSize is the listing page size used against the catalog.
const DefaultPageSize = 40

// ImportOptions configures the product importer.
type ImportOptions struct {
	PageSize  int
	PagePause time.Duration // between page fetches of one category
}

// CategoryImport reports the import of one category listing.
type CategoryImport struct {
	CategoryID int64
	Pages      int
	Products   int
	Changed    int
}

// ProductImporter mirrors the paginated product listing of a category.
type ProductImporter struct {
	source CatalogSource
	store  *storage.Store
	opts   ImportOptions
	log    *logger.Logger

	sleep sleepFunc
	now   func() time.Time
}

// NewProductImporter creates an importer.
func NewProductImporter(source CatalogSource, store *storage.Store, opts ImportOptions, log *logger.Logger) *ProductImporter {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &ProductImporter{
		source: source,
		store:  store,
		opts:   opts,
		log:    logger.OrNop(log).With("component", "product_importer"),
		sleep:  sleep,
		now:    time.Now,
	}
}

// ImportCategory imports every page of the category's listing, one
// transaction per page, and stamps the category as refreshed once the
// listing ends. The listing ends on the first short page or on not-found.
func (i *ProductImporter) ImportCategory(ctx context.Context, sess *catalog.Session, categoryID int64) (*CategoryImport, error) {
	res := &CategoryImport{CategoryID: categoryID}
	size := i.opts.PageSize

	for page := 1; ; page++ {
		if page > 1 {
			if err := i.sleep(ctx, i.opts.PagePause); err != nil {
				return res, err
			}
		}

		products, err := i.source.FetchProductPage(ctx, sess, categoryID, page, size)
		if errors.Is(err, catalog.ErrNotFound) {
			i.log.Debug("Listing not found, treating as end", "category_id", categoryID, "page", page)
			break
		}
		if err != nil {
			return res, fmt.Errorf("category %d page %d: %w", categoryID, page, err)
		}

		changed, err := i.importPage(ctx, categoryID, page, products)
		if err != nil {
			return res, fmt.Errorf("import category %d page %d: %w", categoryID, page, err)
		}
		res.Pages++
		res.Products += len(products)
		res.Changed += changed

		if len(products) < size {
			break
		}
	}

	err := i.store.Transaction(ctx, func(tx *gorm.DB) error {
		return i.store.MarkCategoryRefreshed(ctx, tx, categoryID, i.now())
	})
	if err != nil {
		return res, fmt.Errorf("stamp category %d: %w", categoryID, err)
	}

	i.log.Info("Category products imported",
		"category_id", categoryID,
		"pages", res.Pages,
		"products", res.Products,
		"changed", res.Changed,
	)
	return res, nil
}

func (i *ProductImporter) importPage(ctx context.Context, categoryID int64, page int, products []catalog.RemoteProduct) (int, error) {
	changed := 0
	err := i.store.Transaction(ctx, func(tx *gorm.DB) error {
		changed = 0
		for idx, rp := range products {
			p, features := productFromRemote(rp)

			wrote, err := i.store.SaveProduct(ctx, tx, p)
			if err != nil {
				return err
			}
			if wrote {
				changed++
			}

			ids := make([]int64, len(features))
			for j, f := range features {
				ids[j] = f.ID
			}
			if err := i.store.UpsertFeatures(ctx, tx, features); err != nil {
				return fmt.Errorf("features of product %d: %w", p.ID, err)
			}
			if err := i.store.SetProductFeatures(ctx, tx, p.ID, ids); err != nil {
				return err
			}

			link := &storage.ProductCategory{
				ProductID:  p.ID,
				CategoryID: categoryID,
				SortPos:    idx + (page-1)*i.opts.PageSize + 1,
			}
			if err := i.store.UpsertProductCategory(ctx, tx, link); err != nil {
				return fmt.Errorf("link product %d: %w", p.ID, err)
			}
		}
		return nil
	})
	return changed, err
}

// productFromRemote maps a listing entry to a product row and its features.
// The entry's own catalog id is ignored; membership comes from the listing.
func productFromRemote(rp catalog.RemoteProduct) (*storage.Product, []storage.Feature) {
	attrs := storage.ProductAttributes{
		Name:              rp.Name,
		ProducerCountry:   nonEmpty(rp.ProducerCountry),
		BrandName:         nonEmpty(rp.BrandName),
		Description:       rp.Description,
		ImageURL:          nonEmpty(rp.Image),
		Measure:           rp.Measure,
		IsWeighted:        rp.IsWeighted,
		WeightAvg:         rp.WeightAvg.Ptr(),
		WeightMin:         rp.WeightMin.Ptr(),
		WeightMax:         rp.WeightMax.Ptr(),
		Weight:            nonEmpty(rp.Weight),
		PieceWeightMin:    rp.PieceWeightMin.Ptr(),
		PieceWeightMax:    rp.PieceWeightMax.Ptr(),
		SellByPiece:       rp.SellByPiece,
		QuantityMinStep:   rp.QuantityMinStep.Ptr(),
		PriceActual:       rp.PriceActual.Or(0),
		PriceSpecial:      rp.PriceSpecial.Ptr(),
		PricePrevious:     rp.PricePrevious.Ptr(),
		IsAvailable:       rp.IsAvailable,
		IsLocal:           rp.IsLocal,
		Ingredients:       nonEmpty(rp.Ingredients),
		StorageConditions: nonEmpty(rp.StorageConditions),
		Information:       rp.Information,
	}
	if n := rp.Nutrition; n != nil {
		attrs.NutritionFats = n.Fats.Ptr()
		attrs.NutritionCarbs = n.Carbs.Ptr()
		attrs.NutritionProtein = n.Protein.Ptr()
		attrs.NutritionKcal = n.Kcal.Ptr()
	}
	if r := rp.Rating; r != nil {
		attrs.RatingValue = r.Value.Ptr()
		attrs.RatingReviews = r.Reviews.Ptr()
	}

	features := make([]storage.Feature, 0, len(rp.Characteristics))
	seen := make(map[int64]bool, len(rp.Characteristics))
	for _, ch := range rp.Characteristics {
		if ch.ID == 0 || ch.Name == "" || seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		features = append(features, storage.Feature{ID: ch.ID, Name: ch.Name})
	}

	return &storage.Product{ID: rp.ID, ProductAttributes: attrs}, features
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
