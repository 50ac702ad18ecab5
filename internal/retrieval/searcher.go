// Package retrieval answers natural-language product queries with nearest
// neighbors over the stored product embeddings.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/metheoryt/arbuz-concierge/internal/embedding"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/projection"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// DefaultAncestorDepth bounds the breadcrumb shown per category in results.
const DefaultAncestorDepth = 3

// ErrInvalidInput rejects empty query lists, blank queries and non-positive limits.
var ErrInvalidInput = errors.New("invalid search input")

// VectorIndex finds available products nearest to a query vector, ascending
// by distance. storage.Store and storage.QdrantIndex implement it.
type VectorIndex interface {
	NearestAvailable(ctx context.Context, query []float32, limit int) ([]storage.ScoredProduct, error)
}

// Options tunes a Searcher.
type Options struct {
	AncestorDepth int
	// Concurrency caps parallel per-query vector searches.
	Concurrency int
}

// Searcher runs semantic product search.
type Searcher struct {
	embedder embedding.Embedder
	index    VectorIndex
	store    *storage.Store
	opts     Options
	log      *logger.Logger
}

// NewSearcher creates a searcher. index is usually store itself.
func NewSearcher(embedder embedding.Embedder, index VectorIndex, store *storage.Store, opts Options, log *logger.Logger) *Searcher {
	if opts.AncestorDepth <= 0 {
		opts.AncestorDepth = DefaultAncestorDepth
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Searcher{
		embedder: embedder,
		index:    index,
		store:    store,
		opts:     opts,
		log:      logger.OrNop(log).With("component", "searcher"),
	}
}

// Search embeds all queries in one call, takes max(1, maxResults/len(queries))
// nearest available products per query, merges them in query order without
// duplicates and returns at most maxResults products.
func (s *Searcher) Search(ctx context.Context, queries []string, maxResults int) ([]ProductResult, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: at least one query is required", ErrInvalidInput)
	}
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%w: query %d is blank", ErrInvalidInput, i)
		}
	}
	if maxResults <= 0 {
		return nil, fmt.Errorf("%w: max results must be positive, got %d", ErrInvalidInput, maxResults)
	}

	vecs, err := s.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	if len(vecs) != len(queries) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d queries", len(vecs), len(queries))
	}

	perQuery := max(1, maxResults/len(queries))
	hits := make([][]storage.ScoredProduct, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i := range vecs {
		g.Go(func() error {
			found, err := s.index.NearestAvailable(gctx, vecs[i], perQuery)
			if err != nil {
				return fmt.Errorf("query %q: %w", queries[i], err)
			}
			hits[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := mergeHits(hits, maxResults)
	s.log.Debug("Search merged", "queries", len(queries), "per_query", perQuery, "hits", len(ids))
	if len(ids) == 0 {
		return []ProductResult{}, nil
	}

	products, err := s.store.LoadProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	var catIDs []int64
	for _, p := range products {
		for _, link := range p.Categories {
			catIDs = append(catIDs, link.CategoryID)
		}
	}
	tree, err := s.store.LoadCategoryChains(ctx, catIDs, s.opts.AncestorDepth)
	if err != nil {
		return nil, fmt.Errorf("load category chains: %w", err)
	}

	out := make([]ProductResult, 0, len(products))
	for i := range products {
		// the mirror can lag behind the store on availability
		if !products[i].IsAvailable {
			continue
		}
		out = append(out, toResult(&products[i], tree))
	}
	return out, nil
}

// mergeHits unions per-query hits in query order, dropping repeats.
func mergeHits(hits [][]storage.ScoredProduct, limit int) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, list := range hits {
		for _, h := range list {
			if seen[h.ProductID] {
				continue
			}
			seen[h.ProductID] = true
			ids = append(ids, h.ProductID)
			if len(ids) == limit {
				return ids
			}
		}
	}
	return ids
}

func toResult(p *storage.Product, tree *storage.CategoryTree) ProductResult {
	r := ProductResult{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.PriceActual,
		ProducerCountry: p.ProducerCountry,
		BrandName:       p.BrandName,
		Ingredients:     p.Ingredients,
		Features:        make([]string, 0, len(p.Features)),
		Categories:      make([]CategoryRef, 0, len(p.Categories)),
	}
	for _, f := range p.Features {
		r.Features = append(r.Features, f.Name)
	}
	for _, link := range p.Categories {
		r.Categories = append(r.Categories, CategoryRef{
			Name:     tree.Breadcrumb(link.CategoryID),
			Position: link.SortPos,
		})
	}
	if p.RatingValue != nil {
		r.Rating = &Rating{Value: *p.RatingValue}
		if p.RatingReviews != nil {
			r.Rating.ReviewsCount = *p.RatingReviews
		}
	}
	if p.NutritionKcal != nil && projection.NutritionConsistent(&p.ProductAttributes) {
		r.Nutrition = &Nutrition{
			Calories: *p.NutritionKcal,
			Fats:     p.NutritionFats,
			Proteins: p.NutritionProtein,
			Carbs:    p.NutritionCarbs,
		}
	}
	return r
}
