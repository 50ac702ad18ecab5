package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/metheoryt/arbuz-concierge/internal/catalog"
	"github.com/metheoryt/arbuz-concierge/internal/config"
	"github.com/metheoryt/arbuz-concierge/internal/crawler"
	"github.com/metheoryt/arbuz-concierge/internal/embedding"
	"github.com/metheoryt/arbuz-concierge/internal/indexer"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	"github.com/metheoryt/arbuz-concierge/internal/retrieval"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

// app holds what one CLI invocation shares between steps. The catalog
// session and category tree are created lazily and reused for the whole run.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	store *storage.Store
	runID string

	client  *catalog.Client
	session *catalog.Session
	trees   *catalog.TreeCache
	qdrant  *storage.QdrantIndex
	closers []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	base, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.NewString()
	log := base.With("run_id", runID)

	store, err := storage.Open(storage.Options{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Dimension: cfg.Embedding.Dimension,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store, runID: runID}
	a.closers = append(a.closers, store.Close, func() error { base.Sync(); return nil })
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// catalogSession authenticates once per run.
func (a *app) catalogSession(ctx context.Context) (*catalog.Client, *catalog.Session, error) {
	if a.session != nil {
		return a.client, a.session, nil
	}
	c := a.cfg.Catalog
	a.client = catalog.NewClient(catalog.Options{
		BaseURL:         c.BaseURL,
		APIBase:         c.APIBase,
		RequestInterval: c.RequestInterval,
		MaxRetries:      c.MaxRetries,
		RetryInitial:    c.RetryInitial,
		Timeout:         c.Timeout,
	}, a.log)
	a.trees = catalog.NewTreeCache(a.client)

	sess, err := a.client.Authenticate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("authenticate: %w", err)
	}
	a.session = sess
	return a.client, a.session, nil
}

// crawlCategories resumes an interrupted crawl when a checkpoint exists and
// fresh is not set, otherwise crawls from the roots. Whatever is left pending
// is checkpointed for the next run.
func (a *app) crawlCategories(ctx context.Context, fresh bool) (*crawler.CrawlResult, error) {
	client, sess, err := a.catalogSession(ctx)
	if err != nil {
		return nil, err
	}
	c := crawler.NewCategoryCrawler(client, a.store, crawler.CrawlOptions{
		ContinueOnError: a.cfg.Catalog.ContinueOnError,
	}, a.log)

	var pending []crawler.Frame
	if !fresh {
		if pending, err = c.LoadCheckpoint(ctx); err != nil {
			return nil, err
		}
	}

	var res *crawler.CrawlResult
	if len(pending) > 0 {
		res, err = c.Resume(ctx, sess, pending)
	} else {
		tree, terr := a.trees.Get(ctx)
		if terr != nil {
			return nil, fmt.Errorf("fetch category tree: %w", terr)
		}
		a.log.Info("Category tree fetched", "nodes", tree.Len(), "roots", len(tree.Roots()))
		res, err = c.Crawl(ctx, sess, tree)
	}
	if res != nil {
		if cerr := c.SaveCheckpoint(context.WithoutCancel(ctx), res.Pending); cerr != nil {
			a.log.Warn("Crawl checkpoint not saved", "error", cerr)
		}
	}
	return res, err
}

func (a *app) refreshProducts(ctx context.Context) (*crawler.RefreshResult, error) {
	client, sess, err := a.catalogSession(ctx)
	if err != nil {
		return nil, err
	}
	c := a.cfg.Catalog
	importer := crawler.NewProductImporter(client, a.store, crawler.ImportOptions{
		PageSize:  c.PageSize,
		PagePause: c.PagePause,
	}, a.log)
	s := crawler.NewScheduler(a.store, importer, schedulerOptions(c), a.log)
	return s.Run(ctx, sess)
}

func schedulerOptions(c config.CatalogConfig) crawler.SchedulerOptions {
	return crawler.SchedulerOptions{
		LeavesOnly:      c.LeavesOnly,
		MaxCategories:   c.MaxCategories,
		CategoryPause:   c.CategoryPause,
		ContinueOnError: c.RefreshContinueOnError,
	}
}

// mirror connects to Qdrant when it is enabled, otherwise returns nil.
func (a *app) mirror(ctx context.Context) (*storage.QdrantIndex, error) {
	if !a.cfg.Qdrant.Enabled {
		return nil, nil
	}
	if a.qdrant != nil {
		return a.qdrant, nil
	}
	q := a.cfg.Qdrant
	idx, err := storage.NewQdrantIndex(storage.QdrantOptions{
		Host:       q.Host,
		Port:       q.Port,
		Collection: q.Collection,
		Dimension:  a.cfg.Embedding.Dimension,
	}, a.log)
	if err != nil {
		return nil, err
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	a.qdrant = idx
	a.closers = append(a.closers, idx.Close)
	return idx, nil
}

// embedder builds the OpenAI embedder, fronted by the Redis cache when
// cacheQueries is set and REDIS_URL is configured.
func (a *app) embedder(ctx context.Context, cacheQueries bool) (embedding.Embedder, error) {
	e := a.cfg.Embedding
	client, err := embedding.NewClient(embedding.ClientOptions{APIKey: e.APIKey, BaseURL: e.BaseURL})
	if err != nil {
		return nil, err
	}
	var emb embedding.Embedder = embedding.NewOpenAIEmbedder(client, e.Model, e.BatchSize, a.log)
	if !cacheQueries || a.cfg.Redis.URL == "" {
		return emb, nil
	}
	cache, err := embedding.NewRedisCache(ctx, a.cfg.Redis.URL, a.cfg.Redis.TTL)
	if err != nil {
		a.log.Warn("Query embedding cache disabled", "error", err)
		return emb, nil
	}
	a.closers = append(a.closers, cache.Close)
	return embedding.NewCachedEmbedder(emb, cache, e.Model, a.log), nil
}

func (a *app) pipeline(ctx context.Context) (*indexer.Pipeline, error) {
	emb, err := a.embedder(ctx, false)
	if err != nil {
		return nil, err
	}
	mirror, err := a.mirror(ctx)
	if err != nil {
		return nil, err
	}
	var m indexer.Mirror
	if mirror != nil {
		m = mirror
	}
	return indexer.NewPipeline(a.store, emb, m, a.cfg.Embedding.BatchSize, a.log), nil
}

func (a *app) searcher(ctx context.Context) (*retrieval.Searcher, error) {
	emb, err := a.embedder(ctx, true)
	if err != nil {
		return nil, err
	}
	var index retrieval.VectorIndex = a.store
	if a.cfg.Search.UseQdrant {
		mirror, err := a.mirror(ctx)
		if err != nil {
			return nil, err
		}
		if mirror == nil {
			return nil, errors.New("search.use_qdrant requires qdrant.enabled")
		}
		index = mirror
	}
	return retrieval.NewSearcher(emb, index, a.store, retrieval.Options{
		AncestorDepth: a.cfg.Search.AncestorDepth,
	}, a.log), nil
}
