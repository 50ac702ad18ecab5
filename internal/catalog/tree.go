package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/tidwall/gjson"
)

var catalogTreeRe = regexp.MustCompile(`window\.siteCatalogTree\s*=\s*Object\.values\((.*)\);`)

// TreeNode is a remote category with the parent it was nested under.
type TreeNode struct {
	RemoteCategory
	ParentID *int64
}

// Tree is an arena of remote categories keyed by id. Children are resolved
// through a parent-id index instead of back-references.
type Tree struct {
	nodes    map[int64]TreeNode
	children map[int64][]int64
	roots    []int64
}

// BuildTree indexes nodes in the given order. The first sighting of an id wins.
func BuildTree(nodes []TreeNode) *Tree {
	t := &Tree{
		nodes:    make(map[int64]TreeNode, len(nodes)),
		children: make(map[int64][]int64),
	}
	for _, n := range nodes {
		t.add(n)
	}
	return t
}

func (t *Tree) add(n TreeNode) bool {
	if _, seen := t.nodes[n.ID]; seen {
		return false
	}
	t.nodes[n.ID] = n
	if n.ParentID == nil {
		t.roots = append(t.roots, n.ID)
	} else {
		t.children[*n.ParentID] = append(t.children[*n.ParentID], n.ID)
	}
	return true
}

// Len returns the number of distinct categories.
func (t *Tree) Len() int { return len(t.nodes) }

// Node looks up a category by id.
func (t *Tree) Node(id int64) (TreeNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Roots returns the top-level categories in document order.
func (t *Tree) Roots() []RemoteCategory {
	return t.collect(t.roots)
}

// Children returns the direct children of id in document order.
func (t *Tree) Children(id int64) []RemoteCategory {
	return t.collect(t.children[id])
}

func (t *Tree) collect(ids []int64) []RemoteCategory {
	out := make([]RemoteCategory, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.nodes[id].RemoteCategory)
	}
	return out
}

// parseCategoryTree extracts the catalog tree blob from the homepage HTML.
// Children can be encoded as an object keyed by position or as an array.
func parseCategoryTree(page string) (*Tree, error) {
	m := catalogTreeRe.FindStringSubmatch(page)
	if m == nil {
		return nil, fmt.Errorf("%w: catalog tree not found in homepage", ErrMalformedResponse)
	}
	raw := m[1]
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: catalog tree is not valid JSON", ErrMalformedResponse)
	}

	t := BuildTree(nil)
	var walk func(v gjson.Result, parent *int64)
	walk = func(v gjson.Result, parent *int64) {
		id := v.Get("id").Int()
		if id == 0 {
			return
		}
		node := TreeNode{
			RemoteCategory: RemoteCategory{
				ID:   id,
				Name: StripHTML(v.Get("name").String()),
				URI:  v.Get("uri").String(),
			},
			ParentID: parent,
		}
		if !t.add(node) {
			return
		}
		children := v.Get("children")
		if children.IsObject() || children.IsArray() {
			children.ForEach(func(_, child gjson.Result) bool {
				walk(child, &id)
				return true
			})
		}
	}
	gjson.Parse(raw).ForEach(func(_, v gjson.Result) bool {
		walk(v, nil)
		return true
	})

	if t.Len() == 0 {
		return nil, fmt.Errorf("%w: catalog tree is empty", ErrMalformedResponse)
	}
	return t, nil
}

// TreeFetcher fetches the full remote category tree.
type TreeFetcher interface {
	FetchCategoryTree(ctx context.Context) (*Tree, error)
}

// TreeCache holds the category tree for the lifetime of one sync run. The
// tree is read-only and assumed stable within a run, so it is fetched once.
// Failed fetches are not cached.
type TreeCache struct {
	fetcher TreeFetcher

	mu   sync.Mutex
	tree *Tree
}

// NewTreeCache creates an empty run-scoped cache.
func NewTreeCache(fetcher TreeFetcher) *TreeCache {
	return &TreeCache{fetcher: fetcher}
}

// Get returns the cached tree, fetching it on first use.
func (c *TreeCache) Get(ctx context.Context) (*Tree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree != nil {
		return c.tree, nil
	}
	tree, err := c.fetcher.FetchCategoryTree(ctx)
	if err != nil {
		return nil, err
	}
	c.tree = tree
	return tree, nil
}
