package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/metheoryt/arbuz-concierge/internal/catalog"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// Frame is one entry of the crawl work stack. Exit frames mark the point
// where every descendant of Category has been processed.
type Frame struct {
	Category catalog.RemoteCategory `json:"category"`
	ParentID *int64                 `json:"parent_id,omitempty"`
	Exit     bool                   `json:"exit,omitempty"`
}

// CrawlResult reports a category crawl. Pending is non-empty only when the
// crawl stopped early and can be continued with Resume.
type CrawlResult struct {
	Visited   int
	Completed int
	Skipped   int
	Pruned    []int64
	Failed    []FailedCategory
	Pending   []Frame
	Duration  time.Duration
}

// CrawlOptions configures the category crawler.
type CrawlOptions struct {
	// ContinueOnError abandons only the failing branch instead of the run.
	// Authentication and malformed-response errors always abort.
	ContinueOnError bool
}

// CategoryCrawler mirrors the category forest depth-first, parents before
// children, using an explicit stack.
type CategoryCrawler struct {
	source CatalogSource
	store  *storage.Store
	opts   CrawlOptions
	log    *logger.Logger
}

// NewCategoryCrawler creates a crawler.
func NewCategoryCrawler(source CatalogSource, store *storage.Store, opts CrawlOptions, log *logger.Logger) *CategoryCrawler {
	return &CategoryCrawler{
		source: source,
		store:  store,
		opts:   opts,
		log:    logger.OrNop(log).With("component", "category_crawler"),
	}
}

// Crawl walks the forest starting from the roots of tree.
func (c *CategoryCrawler) Crawl(ctx context.Context, sess *catalog.Session, tree *catalog.Tree) (*CrawlResult, error) {
	roots := tree.Roots()
	stack := make([]Frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, Frame{Category: roots[i]})
	}
	c.log.Info("Starting category crawl", "roots", len(roots))
	return c.run(ctx, sess, stack)
}

// Resume continues a crawl from the Pending frames of an earlier result.
func (c *CategoryCrawler) Resume(ctx context.Context, sess *catalog.Session, pending []Frame) (*CrawlResult, error) {
	stack := append([]Frame(nil), pending...)
	c.log.Info("Resuming category crawl", "pending", len(stack))
	return c.run(ctx, sess, stack)
}

// SaveCheckpoint stores pending frames for a later Resume. An empty slice
// clears the checkpoint.
func (c *CategoryCrawler) SaveCheckpoint(ctx context.Context, pending []Frame) error {
	if len(pending) == 0 {
		return c.store.ClearCrawlCheckpoint(ctx)
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := c.store.SaveCrawlCheckpoint(ctx, data, time.Now()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	c.log.Info("Saved crawl checkpoint", "pending", len(pending))
	return nil
}

// LoadCheckpoint returns the frames of an interrupted crawl, or nil.
func (c *CategoryCrawler) LoadCheckpoint(ctx context.Context) ([]Frame, error) {
	row, err := c.store.LoadCrawlCheckpoint(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	var frames []Frame
	if err := json.Unmarshal(row.Frames, &frames); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return frames, nil
}

func (c *CategoryCrawler) run(ctx context.Context, sess *catalog.Session, stack []Frame) (*CrawlResult, error) {
	start := time.Now()
	result := &CrawlResult{}
	seen := make(map[int64]bool)

	stop := func(err error) (*CrawlResult, error) {
		result.Duration = time.Since(start)
		return result, err
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			result.Pending = stack
			c.log.Warn("Category crawl interrupted", "pending", len(stack))
			return stop(err)
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		id := f.Category.ID

		if f.Exit {
			result.Completed++
			c.log.Debug("Category subtree done", "category_id", id, "name", f.Category.Name)
			continue
		}
		if seen[id] {
			result.Skipped++
			c.log.Warn("Category seen twice in one crawl, skipping", "category_id", id)
			continue
		}
		seen[id] = true

		cat := &storage.Category{ID: id, Name: f.Category.Name, URI: f.Category.URI, ParentID: f.ParentID}
		err := c.store.Transaction(ctx, func(tx *gorm.DB) error {
			return c.store.UpsertCategory(ctx, tx, cat)
		})
		if err != nil {
			if ctx.Err() != nil {
				result.Pending = append(stack, f)
				return stop(ctx.Err())
			}
			return stop(fmt.Errorf("save category %d: %w", id, err))
		}
		result.Visited++

		info, err := c.source.FetchCategoryInfo(ctx, sess, id)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			result.Pruned = append(result.Pruned, id)
			c.log.Info("Category gone remotely, pruning branch", "category_id", id)
			continue
		case err != nil && ctx.Err() != nil:
			result.Pending = append(stack, f)
			return stop(ctx.Err())
		case err != nil:
			if catalog.IsFatal(err) || !c.opts.ContinueOnError {
				return stop(fmt.Errorf("crawl category %d: %w", id, err))
			}
			result.Failed = append(result.Failed, FailedCategory{ID: id, Reason: err.Error()})
			c.log.Warn("Abandoning category branch", "category_id", id, "error", err)
			continue
		}

		stack = append(stack, Frame{Category: f.Category, ParentID: f.ParentID, Exit: true})
		parent := id
		for i := len(info.Subcategories) - 1; i >= 0; i-- {
			stack = append(stack, Frame{Category: info.Subcategories[i], ParentID: &parent})
		}
		c.log.Debug("Category imported", "category_id", id, "name", f.Category.Name,
			"subcategories", len(info.Subcategories), "products", info.ProductCount)
	}

	result.Duration = time.Since(start)
	c.log.Info("Category crawl complete",
		"visited", result.Visited,
		"completed", result.Completed,
		"pruned", len(result.Pruned),
		"failed", len(result.Failed),
		"duration", result.Duration,
	)
	return result, nil
}
