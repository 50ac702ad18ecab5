package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/metheoryt/arbuz-concierge/internal/retrieval"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// ProductSearcher is implemented by retrieval.Searcher.
type ProductSearcher interface {
	Search(ctx context.Context, queries []string, maxResults int) ([]retrieval.ProductResult, error)
}

// StatusSource is implemented by storage.Store.
type StatusSource interface {
	Status(ctx context.Context) (*storage.CatalogStatus, error)
}

// PointCounter is implemented by storage.QdrantIndex.
type PointCounter interface {
	Count(ctx context.Context) (uint64, error)
}

// makeSearchHandler creates the search_products tool handler. A missing or
// non-positive max_results falls back to defaultMax; larger values are
// clamped to limit.
func makeSearchHandler(searcher ProductSearcher, defaultMax, limit int) func(
	context.Context, *mcp.CallToolRequest, SearchProductsInput,
) (*mcp.CallToolResult, SearchProductsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchProductsInput) (
		*mcp.CallToolResult, SearchProductsOutput, error,
	) {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMax
		}
		if limit > 0 && maxResults > limit {
			maxResults = limit
		}

		products, err := searcher.Search(ctx, input.Queries, maxResults)
		if err != nil {
			return nil, SearchProductsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(products) == 0 {
			return nil, SearchProductsOutput{
				Products: []retrieval.ProductResult{},
				Message:  "No matching products in stock. Try broader or different wording.",
			}, nil
		}
		return nil, SearchProductsOutput{Products: products}, nil
	}
}

// makeStatusHandler creates the get_catalog_status tool handler. An
// unreachable mirror is reported in the warning, not as a tool error.
func makeStatusHandler(source StatusSource, mirror PointCounter, now func() time.Time) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		st, err := source.Status(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("database_error: %w", err)
		}

		out := StatusOutput{
			Categories:        st.Categories,
			LeafCategories:    st.LeafCategories,
			NeverRefreshed:    st.NeverRefreshed,
			Products:          st.Products,
			AvailableProducts: st.AvailableProducts,
			Embeddings:        st.Embeddings,
		}
		if st.OldestRefresh != nil {
			out.OldestRefresh = st.OldestRefresh.UTC().Format(time.RFC3339)
		}

		var warnings []string
		if missing := st.Products - st.Embeddings; missing > 0 {
			warnings = append(warnings, fmt.Sprintf("%d products have no embedding yet and cannot be found by search.", missing))
		}
		if st.NeverRefreshed > 0 {
			warnings = append(warnings, fmt.Sprintf("%d categories have never been refreshed.", st.NeverRefreshed))
		}
		if st.OldestRefresh != nil && now().Sub(*st.OldestRefresh) > 7*24*time.Hour {
			warnings = append(warnings, "Some categories were last refreshed more than a week ago. Consider resyncing.")
		}
		if mirror != nil {
			n, err := mirror.Count(ctx)
			if err != nil {
				warnings = append(warnings, "Vector mirror is unreachable.")
			} else {
				out.MirroredPoints = &n
			}
		}
		out.StaleWarning = strings.Join(warnings, " ")
		return nil, out, nil
	}
}
