// Package crawler mirrors the remote category tree and product listings into
// the local store.
package crawler

import (
	"context"
	"time"

	"github.com/metheoryt/arbuz-concierge/internal/catalog"
)

// CatalogSource is the part of the catalog client the crawler needs.
type CatalogSource interface {
	FetchCategoryInfo(ctx context.Context, sess *catalog.Session, categoryID int64) (catalog.CategoryInfo, error)
	FetchProductPage(ctx context.Context, sess *catalog.Session, categoryID int64, page, pageSize int) ([]catalog.RemoteProduct, error)
}

// FailedCategory records a category whose import was abandoned.
type FailedCategory struct {
	ID     int64
	Reason string
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
