// Package main provides the sync CLI that mirrors the arbuz.kz catalog and
// maintains product embeddings.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/metheoryt/arbuz-concierge/internal/crawler"
	"github.com/metheoryt/arbuz-concierge/internal/indexer"
)

var (
	configPath      string
	maxCategories   int
	leavesOnly      bool
	stopOnError     bool
	freshCrawl      bool
	continueOnError bool
	resetMirror     bool
	maxResults      int
)

var rootCmd = &cobra.Command{
	Use:   "arbuz-sync",
	Short: "arbuz.kz catalog mirror and embedding tool",
	Long: `CLI tool for mirroring the arbuz.kz catalog into a relational store and
maintaining the product embeddings used by semantic search.

Environment variables:
  DATABASE_URL     Database DSN (required)
  DATABASE_DRIVER  postgres (default) or sqlite
  OPENAI_API_KEY   OpenAI API key for embeddings (embed, search)
  QDRANT_ENABLED   Mirror embeddings into Qdrant (default: false)
  QDRANT_HOST      Qdrant hostname (default: localhost)
  QDRANT_PORT      Qdrant gRPC port (default: 6334)
  REDIS_URL        Redis URL for caching query embeddings (optional)
  LOG_MODE         development (default) or production`,
	SilenceUsage: true,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Mirror the category tree",
	Long: `Mirrors the category forest depth-first. An interrupted crawl leaves a
checkpoint in the database and the next run continues from it unless
--fresh is set.`,
	RunE: withApp(runCategories),
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Refresh products of the stalest categories",
	Long: `Refreshes product listings category by category, oldest refresh first.
Categories that were never refreshed go first. A failing category is
reported and the run moves on unless --stop-on-error is set.`,
	RunE: withApp(runProducts),
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed products that have no embedding yet",
	RunE:  withApp(runEmbed),
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Re-send all embeddings to Qdrant with current availability",
	RunE:  withApp(runMirror),
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run categories, products and embed in sequence",
	RunE:  withApp(runAll),
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY [QUERY...]",
	Short: "Run a semantic search and print the results as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(runSearch),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print mirror counts and refresh staleness",
	RunE:  withApp(runStatus),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file (optional)")
	rootCmd.PersistentFlags().BoolVar(&continueOnError, "continue-on-error", false, "keep crawling sibling branches after a branch fails")

	for _, cmd := range []*cobra.Command{productsCmd, allCmd} {
		cmd.Flags().IntVar(&maxCategories, "max-categories", 0, "refresh at most this many categories (0 means all)")
		cmd.Flags().BoolVar(&leavesOnly, "leaves-only", false, "refresh only categories without subcategories")
		cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort the refresh at the first failed category")
	}
	for _, cmd := range []*cobra.Command{categoriesCmd, allCmd} {
		cmd.Flags().BoolVar(&freshCrawl, "fresh", false, "ignore a saved crawl checkpoint and start from the roots")
	}
	mirrorCmd.Flags().BoolVar(&resetMirror, "reset", false, "drop and recreate the collection first")
	searchCmd.Flags().IntVar(&maxResults, "max-results", 0, "maximum number of products (default from config)")

	rootCmd.AddCommand(categoriesCmd, productsCmd, embedCmd, mirrorCmd, allCmd, searchCmd, statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type runFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// withApp opens the shared run state, applies flag overrides and cancels the
// run on SIGINT/SIGTERM.
func withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer cancel()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("max-categories") {
			a.cfg.Catalog.MaxCategories = maxCategories
		}
		if leavesOnly {
			a.cfg.Catalog.LeavesOnly = true
		}
		if continueOnError {
			a.cfg.Catalog.ContinueOnError = true
		}
		if stopOnError {
			a.cfg.Catalog.RefreshContinueOnError = false
		}
		return fn(ctx, a, cmd, args)
	}
}

func runCategories(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	fmt.Println("Crawling category tree...")
	res, err := a.crawlCategories(ctx, freshCrawl)
	if res != nil {
		printCrawl(res)
	}
	if err != nil {
		return fmt.Errorf("category crawl failed: %w", err)
	}
	return nil
}

func runProducts(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	fmt.Println("Refreshing products...")
	res, err := a.refreshProducts(ctx)
	if res != nil {
		printRefresh(res)
	}
	if err != nil {
		return fmt.Errorf("product refresh failed: %w", err)
	}
	return nil
}

func runEmbed(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	fmt.Println("Embedding products...")
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	res, err := p.EmbedMissing(ctx)
	if res != nil {
		printEmbed(res)
	}
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	return nil
}

func runMirror(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	idx, err := a.mirror(ctx)
	if err != nil {
		return err
	}
	if idx == nil {
		return fmt.Errorf("qdrant is not enabled (set QDRANT_ENABLED=true)")
	}
	if resetMirror {
		fmt.Println("Clearing collection...")
		if err := idx.ClearCollection(ctx); err != nil {
			return fmt.Errorf("clear collection: %w", err)
		}
	}
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	n, err := p.SyncMirror(ctx)
	fmt.Printf("  Mirrored: %d\n", n)
	return err
}

func runAll(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	start := time.Now()
	steps := []runFunc{runCategories, runProducts, runEmbed}
	for _, step := range steps {
		if err := step(ctx, a, cmd, args); err != nil {
			return err
		}
		fmt.Println()
	}
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func runSearch(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
	s, err := a.searcher(ctx)
	if err != nil {
		return err
	}
	limit := maxResults
	if limit <= 0 {
		limit = a.cfg.Search.DefaultMaxResults
	}
	results, err := s.Search(ctx, args, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runStatus(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
	st, err := a.store.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Categories:         %d (%d leaves, %d never refreshed)\n", st.Categories, st.LeafCategories, st.NeverRefreshed)
	if st.OldestRefresh != nil {
		fmt.Printf("Oldest refresh:     %s\n", st.OldestRefresh.Format(time.RFC3339))
	}
	fmt.Printf("Products:           %d (%d available)\n", st.Products, st.AvailableProducts)
	fmt.Printf("Embeddings:         %d\n", st.Embeddings)
	return nil
}

func printCrawl(res *crawler.CrawlResult) {
	fmt.Println()
	fmt.Printf("  Visited:   %d\n", res.Visited)
	fmt.Printf("  Completed: %d\n", res.Completed)
	fmt.Printf("  Skipped:   %d\n", res.Skipped)
	fmt.Printf("  Pruned:    %d\n", len(res.Pruned))
	fmt.Printf("  Duration:  %s\n", res.Duration.Round(time.Second))
	if len(res.Pending) > 0 {
		fmt.Printf("  Interrupted with %d stack frames checkpointed; the next run resumes from them.\n", len(res.Pending))
	}
	printFailed(res.Failed)
}

func printRefresh(res *crawler.RefreshResult) {
	fmt.Println()
	fmt.Printf("  Categories: %d/%d\n", res.Refreshed, res.Selected)
	fmt.Printf("  Products:   %d (%d changed)\n", res.Products, res.Changed)
	fmt.Printf("  Duration:   %s\n", res.Duration.Round(time.Second))
	printFailed(res.Failed)
}

func printEmbed(res *indexer.IndexResult) {
	fmt.Println()
	fmt.Printf("  Batches:  %d\n", res.Batches)
	fmt.Printf("  Embedded: %d\n", res.Embedded)
	if res.Mirrored > 0 || res.MirrorFailures > 0 {
		fmt.Printf("  Mirrored: %d (%d batches failed)\n", res.Mirrored, res.MirrorFailures)
	}
	fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Second))
	if len(res.FailedBatches) > 0 {
		fmt.Println()
		fmt.Println("Failed batches:")
		for _, f := range res.FailedBatches {
			fmt.Printf("  - products %d-%d: %s\n", f.FirstID, f.LastID, f.Reason)
		}
	}
}

func printFailed(failed []crawler.FailedCategory) {
	if len(failed) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Failed categories:")
	for _, f := range failed {
		fmt.Printf("  - %d: %s\n", f.ID, f.Reason)
	}
}
