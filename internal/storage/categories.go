package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertCategory creates the category or overwrites its name, uri and parent.
// The refresh stamp of an existing row is kept. The parent, when set, must
// already be mirrored; the check runs on tx so it sees uncommitted writes.
func (s *Store) UpsertCategory(ctx context.Context, tx *gorm.DB, c *Category) error {
	t := s.conn(ctx, tx)
	if c == nil {
		return nil
	}
	if c.ParentID != nil {
		var n int64
		if err := t.Model(&Category{}).Where("id = ?", *c.ParentID).Count(&n).Error; err != nil {
			return fmt.Errorf("check parent of category %d: %w", c.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: category %d references %d", ErrParentMissing, c.ID, *c.ParentID)
		}
	}
	return t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "uri", "parent_id"}),
	}).Create(c).Error
}

// GetCategory returns a category by id or ErrNotFound.
func (s *Store) GetCategory(ctx context.Context, tx *gorm.DB, id int64) (*Category, error) {
	var c Category
	if err := s.conn(ctx, tx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "category", id)
	}
	return &c, nil
}

// MarkCategoryRefreshed stamps the category's listing as fully imported at the given time.
func (s *Store) MarkCategoryRefreshed(ctx context.Context, tx *gorm.DB, id int64, at time.Time) error {
	res := s.conn(ctx, tx).Model(&Category{}).Where("id = ?", id).Update("updated_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: category %d", ErrNotFound, id)
	}
	return nil
}

// RefreshQuery selects categories for a product refresh run.
type RefreshQuery struct {
	LeavesOnly bool // skip categories that have mirrored children
	Limit      int  // 0 means all
}

// ListCategoriesForRefresh returns categories oldest-refreshed first: never
// refreshed ones lead, then ascending refresh time, ties broken by id.
func (s *Store) ListCategoriesForRefresh(ctx context.Context, q RefreshQuery) ([]Category, error) {
	t := s.conn(ctx, nil).Model(&Category{})
	if q.LeavesOnly {
		t = t.Where("NOT EXISTS (SELECT 1 FROM categories AS child WHERE child.parent_id = categories.id)")
	}
	t = t.Order("updated_at IS NOT NULL").Order("updated_at ASC").Order("id ASC")
	if q.Limit > 0 {
		t = t.Limit(q.Limit)
	}
	var out []Category
	if err := t.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LoadCategoryTree loads every mirrored category.
func (s *Store) LoadCategoryTree(ctx context.Context, tx *gorm.DB) (*CategoryTree, error) {
	var cats []Category
	if err := s.conn(ctx, tx).Order("id").Find(&cats).Error; err != nil {
		return nil, err
	}
	return NewCategoryTree(cats), nil
}

// LoadCategoryChains loads the given categories plus at most depth levels of
// ancestors above each of them.
func (s *Store) LoadCategoryChains(ctx context.Context, ids []int64, depth int) (*CategoryTree, error) {
	tree := NewCategoryTree(nil)
	pending := ids
	for level := 0; len(pending) > 0 && level <= depth; level++ {
		var cats []Category
		if err := s.conn(ctx, nil).Where("id IN ?", pending).Find(&cats).Error; err != nil {
			return nil, err
		}
		pending = pending[:0:0]
		for _, c := range cats {
			tree.add(c)
		}
		for _, c := range cats {
			if c.ParentID != nil {
				if _, ok := tree.nodes[*c.ParentID]; !ok {
					pending = append(pending, *c.ParentID)
				}
			}
		}
	}
	return tree, nil
}
