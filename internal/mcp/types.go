// Package mcp exposes catalog search and status as MCP tools.
package mcp

import "github.com/metheoryt/arbuz-concierge/internal/retrieval"

// SearchProductsInput defines the input parameters for the search_products tool.
type SearchProductsInput struct {
	// Queries are short descriptions of what the user is looking for.
	Queries []string `json:"queries" jsonschema:"One or more product descriptions in Russian, e.g. органическое молоко"`
	// MaxResults caps the total number of products across all queries.
	MaxResults int `json:"max_results,omitempty" jsonschema:"Maximum number of products to return across all queries"`
}

// SearchProductsOutput contains the search results.
type SearchProductsOutput struct {
	Products []retrieval.ProductResult `json:"products"`
	// Message provides informational context (e.g., "No matching products found").
	Message string `json:"message,omitempty"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput summarizes how complete and fresh the mirror is.
type StatusOutput struct {
	Categories        int64 `json:"categories"`
	LeafCategories    int64 `json:"leaf_categories"`
	NeverRefreshed    int64 `json:"never_refreshed"`
	Products          int64 `json:"products"`
	AvailableProducts int64 `json:"available_products"`
	Embeddings        int64 `json:"embeddings"`
	// OldestRefresh is the RFC 3339 time of the stalest refreshed category.
	OldestRefresh string `json:"oldest_refresh,omitempty"`
	// MirroredPoints is set when a Qdrant mirror is configured and reachable.
	MirroredPoints *uint64 `json:"mirrored_points,omitempty"`
	StaleWarning   string  `json:"stale_warning,omitempty"`
}
