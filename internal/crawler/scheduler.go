package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/metheoryt/arbuz-concierge/internal/catalog"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// SchedulerOptions configures a refresh run.
type SchedulerOptions struct {
	LeavesOnly      bool // skip categories with mirrored children
	MaxCategories   int  // 0 refreshes every selected category
	CategoryPause   time.Duration
	ContinueOnError bool
}

// RefreshResult reports a refresh run.
type RefreshResult struct {
	Selected  int
	Refreshed int
	Products  int
	Changed   int
	Failed    []FailedCategory
	Duration  time.Duration
}

// Scheduler refreshes product listings, stalest categories first.
type Scheduler struct {
	store    *storage.Store
	importer *ProductImporter
	opts     SchedulerOptions
	log      *logger.Logger

	sleep sleepFunc
}

// NewScheduler creates a refresh scheduler.
func NewScheduler(store *storage.Store, importer *ProductImporter, opts SchedulerOptions, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		importer: importer,
		opts:     opts,
		log:      logger.OrNop(log).With("component", "refresh_scheduler"),
		sleep:    sleep,
	}
}

// Run imports categories one at a time: never refreshed ones first, then by
// ascending refresh time. Authentication errors abort the run regardless of
// ContinueOnError.
func (s *Scheduler) Run(ctx context.Context, sess *catalog.Session) (*RefreshResult, error) {
	start := time.Now()
	result := &RefreshResult{}

	cats, err := s.store.ListCategoriesForRefresh(ctx, storage.RefreshQuery{
		LeavesOnly: s.opts.LeavesOnly,
		Limit:      s.opts.MaxCategories,
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	result.Selected = len(cats)
	s.log.Info("Starting product refresh", "categories", len(cats), "leaves_only", s.opts.LeavesOnly)

	for n, cat := range cats {
		if n > 0 {
			if err := s.sleep(ctx, s.opts.CategoryPause); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
		}

		imp, err := s.importer.ImportCategory(ctx, sess, cat.ID)
		if err != nil {
			if ctx.Err() != nil || catalog.IsFatal(err) || !s.opts.ContinueOnError {
				result.Duration = time.Since(start)
				return result, err
			}
			result.Failed = append(result.Failed, FailedCategory{ID: cat.ID, Reason: err.Error()})
			s.log.Warn("Category refresh failed", "category_id", cat.ID, "name", cat.Name, "error", err)
			continue
		}
		result.Refreshed++
		result.Products += imp.Products
		result.Changed += imp.Changed
		s.log.Info("Refreshed category", "n", n+1, "of", len(cats), "category_id", cat.ID, "name", cat.Name)
	}

	result.Duration = time.Since(start)
	s.log.Info("Product refresh complete",
		"refreshed", result.Refreshed,
		"failed", len(result.Failed),
		"products", result.Products,
		"changed", result.Changed,
		"duration", result.Duration,
	)
	return result, nil
}
