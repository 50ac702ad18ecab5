package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategoryTree_ObjectAndArrayChildren(t *testing.T) {
	page := `<script>window.siteCatalogTree = Object.values({
		"0":{"id":1,"name":"Овощи","uri":"/c/1","children":[
			{"id":2,"name":"Томаты","uri":"/c/2"},
			{"id":3,"name":"Огурцы","uri":"/c/3","children":{"0":{"id":4,"name":"Корнишоны","uri":"/c/4"}}}
		]},
		"1":{"id":5,"name":"Фрукты","uri":"/c/5","children":{}}
	});</script>`
	// the blob spans lines; real pages inline it, so collapse before parsing
	tree, err := parseCategoryTree(collapse(page))
	require.NoError(t, err)

	assert.Equal(t, 5, tree.Len())
	assert.Equal(t, []int64{1, 5}, ids(tree.Roots()))
	assert.Equal(t, []int64{2, 3}, ids(tree.Children(1)))
	assert.Equal(t, []int64{4}, ids(tree.Children(3)))
	assert.Empty(t, tree.Children(5))

	n, ok := tree.Node(4)
	require.True(t, ok)
	require.NotNil(t, n.ParentID)
	assert.Equal(t, int64(3), *n.ParentID)
}

func TestParseCategoryTree_DuplicateKeepsFirstParent(t *testing.T) {
	page := `window.siteCatalogTree = Object.values({"0":{"id":1,"name":"A","children":[{"id":3,"name":"C"}]},"1":{"id":2,"name":"B","children":[{"id":3,"name":"C again"}]}});`
	tree, err := parseCategoryTree(page)
	require.NoError(t, err)

	n, ok := tree.Node(3)
	require.True(t, ok)
	assert.Equal(t, "C", n.Name)
	assert.Equal(t, int64(1), *n.ParentID)
	assert.Empty(t, tree.Children(2))
}

func TestParseCategoryTree_Malformed(t *testing.T) {
	cases := map[string]string{
		"missing": `<html></html>`,
		"invalid": `window.siteCatalogTree = Object.values({"0":{"id":1,);`,
		"empty":   `window.siteCatalogTree = Object.values({});`,
	}
	for name, page := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseCategoryTree(page)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

type countingFetcher struct {
	calls int
	err   error
}

func (f *countingFetcher) FetchCategoryTree(context.Context) (*Tree, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return BuildTree([]TreeNode{{RemoteCategory: RemoteCategory{ID: 1, Name: "root"}}}), nil
}

func TestTreeCache_FetchesOnce(t *testing.T) {
	f := &countingFetcher{}
	cache := NewTreeCache(f)

	for i := 0; i < 3; i++ {
		tree, err := cache.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, tree.Len())
	}
	assert.Equal(t, 1, f.calls)
}

func TestTreeCache_DoesNotCacheErrors(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	cache := NewTreeCache(f)

	_, err := cache.Get(context.Background())
	require.Error(t, err)

	f.err = nil
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func ids(cats []RemoteCategory) []int64 {
	out := make([]int64, len(cats))
	for i, c := range cats {
		out[i] = c.ID
	}
	return out
}

func collapse(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
