package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metheoryt/arbuz-concierge/internal/retrieval"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

type fakeSearcher struct {
	queries    []string
	maxResults int
	results    []retrieval.ProductResult
	err        error
}

func (f *fakeSearcher) Search(_ context.Context, queries []string, maxResults int) ([]retrieval.ProductResult, error) {
	f.queries = queries
	f.maxResults = maxResults
	return f.results, f.err
}

type fakeStatus struct {
	status *storage.CatalogStatus
	err    error
}

func (f fakeStatus) Status(context.Context) (*storage.CatalogStatus, error) { return f.status, f.err }

type fakeCounter struct {
	n   uint64
	err error
}

func (f fakeCounter) Count(context.Context) (uint64, error) { return f.n, f.err }

func TestSearchHandler_DefaultsAndClamp(t *testing.T) {
	s := &fakeSearcher{results: []retrieval.ProductResult{{ID: 1, Name: "Молоко"}}}
	h := makeSearchHandler(s, 20, 50)

	_, out, err := h(context.Background(), nil, SearchProductsInput{Queries: []string{"молоко"}})
	require.NoError(t, err)
	assert.Equal(t, 20, s.maxResults)
	assert.Len(t, out.Products, 1)
	assert.Empty(t, out.Message)

	_, _, err = h(context.Background(), nil, SearchProductsInput{Queries: []string{"молоко"}, MaxResults: 500})
	require.NoError(t, err)
	assert.Equal(t, 50, s.maxResults)
}

func TestSearchHandler_EmptyResultHasMessage(t *testing.T) {
	h := makeSearchHandler(&fakeSearcher{}, 20, 50)

	_, out, err := h(context.Background(), nil, SearchProductsInput{Queries: []string{"икра"}})
	require.NoError(t, err)
	assert.NotNil(t, out.Products)
	assert.Empty(t, out.Products)
	assert.NotEmpty(t, out.Message)
}

func TestSearchHandler_InvalidInputIsToolError(t *testing.T) {
	h := makeSearchHandler(&fakeSearcher{err: retrieval.ErrInvalidInput}, 20, 50)

	_, _, err := h(context.Background(), nil, SearchProductsInput{})
	assert.ErrorIs(t, err, retrieval.ErrInvalidInput)
}

func TestStatusHandler(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-10 * 24 * time.Hour)
	src := fakeStatus{status: &storage.CatalogStatus{
		Categories:        40,
		LeafCategories:    30,
		NeverRefreshed:    2,
		OldestRefresh:     &oldest,
		Products:          1000,
		AvailableProducts: 900,
		Embeddings:        990,
	}}
	h := makeStatusHandler(src, fakeCounter{n: 990}, func() time.Time { return now })

	_, out, err := h(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(30), out.LeafCategories)
	assert.Equal(t, "2025-05-31T12:00:00Z", out.OldestRefresh)
	require.NotNil(t, out.MirroredPoints)
	assert.Equal(t, uint64(990), *out.MirroredPoints)
	assert.Contains(t, out.StaleWarning, "10 products have no embedding")
	assert.Contains(t, out.StaleWarning, "2 categories have never been refreshed")
	assert.Contains(t, out.StaleWarning, "more than a week ago")
}

func TestStatusHandler_FreshMirrorDown(t *testing.T) {
	now := time.Now()
	src := fakeStatus{status: &storage.CatalogStatus{Products: 5, Embeddings: 5, OldestRefresh: &now}}
	h := makeStatusHandler(src, fakeCounter{err: storage.ErrQdrantUnreachable}, time.Now)

	_, out, err := h(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.Nil(t, out.MirroredPoints)
	assert.Equal(t, "Vector mirror is unreachable.", out.StaleWarning)
}

func TestStatusHandler_DatabaseError(t *testing.T) {
	h := makeStatusHandler(fakeStatus{err: errors.New("conn refused")}, nil, time.Now)
	_, _, err := h(context.Background(), nil, StatusInput{})
	assert.Error(t, err)
}

func TestServer_ListsAndCallsTools(t *testing.T) {
	ctx := context.Background()
	s := &fakeSearcher{results: []retrieval.ProductResult{{
		ID:         7,
		Name:       "Кефир",
		Features:   []string{},
		Categories: []retrieval.CategoryRef{},
	}}}
	srv := NewServer(&Config{Searcher: s, Status: fakeStatus{status: &storage.CatalogStatus{}}})

	serverT, clientT := mcp.NewInMemoryTransports()
	serverSession, err := srv.server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search_products", "get_catalog_status"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_products",
		Arguments: map[string]any{"queries": []string{"кефир"}, "max_results": 3},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"кефир"}, s.queries)
	assert.Equal(t, 3, s.maxResults)
}
