package storage

import "strings"

// BreadcrumbSeparator joins category names from root to leaf.
const BreadcrumbSeparator = " > "

// CategoryTree is an id-keyed arena of mirrored categories. Ancestor walks
// stop at the first parent that was not loaded, so a tree loaded with
// LoadCategoryChains yields depth-bounded breadcrumbs.
type CategoryTree struct {
	nodes map[int64]Category
}

// NewCategoryTree indexes cats by id.
func NewCategoryTree(cats []Category) *CategoryTree {
	t := &CategoryTree{nodes: make(map[int64]Category, len(cats))}
	for _, c := range cats {
		t.add(c)
	}
	return t
}

func (t *CategoryTree) add(c Category) { t.nodes[c.ID] = c }

// Len returns the number of loaded categories.
func (t *CategoryTree) Len() int { return len(t.nodes) }

// Get looks up a loaded category.
func (t *CategoryTree) Get(id int64) (Category, bool) {
	c, ok := t.nodes[id]
	return c, ok
}

// Path returns the names from the outermost loaded ancestor down to id.
func (t *CategoryTree) Path(id int64) []string {
	var names []string
	seen := make(map[int64]bool)
	for cur, ok := t.nodes[id]; ok && !seen[cur.ID]; {
		seen[cur.ID] = true
		names = append(names, cur.Name)
		if cur.ParentID == nil {
			break
		}
		cur, ok = t.nodes[*cur.ParentID]
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// Breadcrumb joins Path with BreadcrumbSeparator.
func (t *CategoryTree) Breadcrumb(id int64) string {
	return strings.Join(t.Path(id), BreadcrumbSeparator)
}
