package indexer

import (
	"context"
	"errors"
	"fmt"
)

// SyncMirror re-sends every stored embedding to the mirror with the current
// availability of its product. Product refreshes flip availability without
// touching embeddings, so the mirror drifts until this runs.
func (p *Pipeline) SyncMirror(ctx context.Context) (int, error) {
	if p.mirror == nil {
		return 0, errors.New("no mirror configured")
	}

	var cursor int64
	synced := 0
	for {
		ids, err := p.store.EmbeddedProductIDs(ctx, cursor, p.batchSize)
		if err != nil {
			return synced, fmt.Errorf("list embedded products: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		cursor = ids[len(ids)-1]

		rows, err := p.store.LoadEmbeddings(ctx, ids)
		if err != nil {
			return synced, fmt.Errorf("load embeddings: %w", err)
		}
		available, err := p.store.ProductAvailability(ctx, ids)
		if err != nil {
			return synced, fmt.Errorf("load availability: %w", err)
		}
		if err := p.mirror.UpsertEmbeddings(ctx, rows, available); err != nil {
			return synced, fmt.Errorf("mirror products %d-%d: %w", ids[0], cursor, err)
		}
		synced += len(rows)
	}

	p.logger.Info("Mirror synced", "embeddings", synced)
	return synced, nil
}
