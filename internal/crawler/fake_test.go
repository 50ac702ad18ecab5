package crawler

import (
	"context"
	"net/http"
	"sync"

	"github.com/metheoryt/arbuz-concierge/internal/catalog"
)

type pageCall struct {
	category int64
	page     int
}

// fakeSource serves category info and product pages from maps.
type fakeSource struct {
	mu sync.Mutex

	infos    map[int64]catalog.CategoryInfo
	infoErrs map[int64]error
	pages    map[int64][][]catalog.RemoteProduct
	pageErrs map[pageCall]error
	onInfo   func(id int64)

	infoCalls []int64
	pageCalls []pageCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		infos:    map[int64]catalog.CategoryInfo{},
		infoErrs: map[int64]error{},
		pages:    map[int64][][]catalog.RemoteProduct{},
		pageErrs: map[pageCall]error{},
	}
}

var errNotFound = &catalog.HTTPError{StatusCode: http.StatusNotFound, URL: "fake"}

func (f *fakeSource) FetchCategoryInfo(_ context.Context, _ *catalog.Session, id int64) (catalog.CategoryInfo, error) {
	f.mu.Lock()
	f.infoCalls = append(f.infoCalls, id)
	hook := f.onInfo
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err, ok := f.infoErrs[id]; ok {
		return catalog.CategoryInfo{}, err
	}
	return f.infos[id], nil
}

func (f *fakeSource) FetchProductPage(_ context.Context, _ *catalog.Session, id int64, page, _ int) ([]catalog.RemoteProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := pageCall{category: id, page: page}
	f.pageCalls = append(f.pageCalls, call)
	if err, ok := f.pageErrs[call]; ok {
		return nil, err
	}
	pages, ok := f.pages[id]
	if !ok {
		return nil, errNotFound
	}
	if page > len(pages) {
		return []catalog.RemoteProduct{}, nil
	}
	return pages[page-1], nil
}

func (f *fakeSource) subs(parent int64, children ...int64) {
	info := f.infos[parent]
	for _, id := range children {
		info.Subcategories = append(info.Subcategories, catalog.RemoteCategory{ID: id, Name: categoryName(id)})
	}
	f.infos[parent] = info
}

func categoryName(id int64) string {
	return "cat-" + string(rune('A'+id%26))
}

func tree(roots ...int64) *catalog.Tree {
	nodes := make([]catalog.TreeNode, len(roots))
	for i, id := range roots {
		nodes[i] = catalog.TreeNode{RemoteCategory: catalog.RemoteCategory{ID: id, Name: categoryName(id)}}
	}
	return catalog.BuildTree(nodes)
}
