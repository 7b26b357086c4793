package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cravehy/internal/browser"
	"cravehy/internal/config"
	"cravehy/internal/logging"
	"cravehy/internal/store"
	"cravehy/internal/types"
)

// Driver is the browser surface the pipeline needs. Satisfied by
// browser.SessionManager; tests substitute a stub.
type Driver interface {
	CreateSession(ctx context.Context, url string) (*browser.Session, error)
	CloseSession(sessionID string) error
	SetLocation(ctx context.Context, sessionID, location string) error
	Navigate(ctx context.Context, sessionID, url string) error
	CollectListing(ctx context.Context, sessionID string, maxScrollAttempts int) ([]string, error)
	CategoryLinks(ctx context.Context, sessionID string) (map[string]string, error)
}

// ProductFetcher resolves a product ID to its variants.
type ProductFetcher interface {
	FetchProduct(ctx context.Context, productID string) ([]*types.Product, error)
}

// RunOptions narrows what a scrape run covers.
type RunOptions struct {
	// Categories filters subcategories by substring match against the
	// category name or URL. Empty means all.
	Categories []string
	// MaxCategories caps how many subcategories are walked. 0 means all.
	MaxCategories int
	// MaxProducts caps how many product IDs are fetched. 0 means all.
	MaxProducts int
	// ProductIDs skips discovery entirely and fetches just these IDs.
	ProductIDs []string
}

// RunResult summarizes a completed scrape run.
type RunResult struct {
	RunID      string
	Categories int
	Products   int
	Failures   int
}

// Pipeline wires browser-driven discovery to HTTP detail fetches and
// persists everything through the store.
type Pipeline struct {
	cfg     *config.Config
	store   *store.Store
	driver  Driver
	fetcher ProductFetcher
}

// NewPipeline assembles a scrape pipeline.
func NewPipeline(cfg *config.Config, st *store.Store, driver Driver, fetcher ProductFetcher) *Pipeline {
	if fetcher == nil {
		fetcher = NewFetcher(cfg.Scrape.BaseURL, cfg.GetFetchTimeout())
	}
	return &Pipeline{cfg: cfg, store: st, driver: driver, fetcher: fetcher}
}

// Run executes a full scrape: set location, discover categories, walk
// listings for product IDs, then fetch details concurrently. Bookkeeping
// goes to scrape_runs and fetch_failures so partial runs can be resumed.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	runID := uuid.NewString()
	if err := p.store.StartRun(runID); err != nil {
		return nil, err
	}

	result, err := p.run(ctx, runID, opts)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	if result == nil {
		result = &RunResult{RunID: runID}
	}
	if ferr := p.store.FinishRun(runID, result.Categories, result.Products, result.Failures, status); ferr != nil {
		logging.ScraperError("finish run %s: %v", runID, ferr)
	}
	return result, err
}

func (p *Pipeline) run(ctx context.Context, runID string, opts RunOptions) (*RunResult, error) {
	result := &RunResult{RunID: runID}

	ids := opts.ProductIDs
	if len(ids) == 0 {
		discovered, categories, err := p.discover(ctx, opts)
		if err != nil {
			return result, err
		}
		ids = discovered
		result.Categories = categories
	}

	if len(ids) == 0 {
		logging.ScraperWarn("Run %s discovered no products", runID)
		return result, nil
	}
	if opts.MaxProducts > 0 && len(ids) > opts.MaxProducts {
		ids = ids[:opts.MaxProducts]
	}

	products, failures := p.fetchAll(ctx, runID, ids)
	result.Products = products
	result.Failures = failures
	return result, ctx.Err()
}

// discover sets the delivery location, collects subcategory links and
// walks each listing page for product IDs.
func (p *Pipeline) discover(ctx context.Context, opts RunOptions) ([]string, int, error) {
	timer := logging.StartTimer(logging.CategoryScraper, "discover")
	defer timer.StopWithInfo()

	sess, err := p.driver.CreateSession(ctx, p.cfg.Scrape.BaseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := p.driver.CloseSession(sess.ID); cerr != nil {
			logging.ScraperWarn("close session %s: %v", sess.ID, cerr)
		}
	}()

	if p.cfg.Scrape.Location != "" {
		if err := p.driver.SetLocation(ctx, sess.ID, p.cfg.Scrape.Location); err != nil {
			return nil, 0, fmt.Errorf("set location: %w", err)
		}
	}

	links, err := p.driver.CategoryLinks(ctx, sess.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("collect category links: %w", err)
	}

	categories := CategoriesFromLinks(links, p.cfg.Scrape.BaseURL)
	categories = filterCategories(categories, opts)
	if len(categories) == 0 {
		return nil, 0, fmt.Errorf("no categories matched")
	}

	if err := p.store.UpsertCategories(categories); err != nil {
		return nil, 0, err
	}
	logging.Scraper("Discovered %d categories", len(categories))

	seen := make(map[string]bool)
	var ids []string
	for _, cat := range categories {
		if err := ctx.Err(); err != nil {
			return ids, len(categories), err
		}

		if err := p.driver.Navigate(ctx, sess.ID, cat.URL); err != nil {
			logging.ScraperError("navigate to %s: %v", cat.URL, err)
			continue
		}

		catIDs, err := p.driver.CollectListing(ctx, sess.ID, p.cfg.Scrape.MaxScrollAttempts)
		if err != nil {
			logging.ScraperError("collect listing %s: %v", cat.Name, err)
			continue
		}
		logging.Scraper("Category %q: %d products", cat.Name, len(catIDs))

		for _, id := range catIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	return ids, len(categories), nil
}

// fetchAll resolves product IDs to full products with a bounded worker
// pool. Each worker paces itself with jitter on top of the fetcher's
// global rate limit.
func (p *Pipeline) fetchAll(ctx context.Context, runID string, ids []string) (int, int) {
	var products, failures atomic.Int64

	workers := p.cfg.Scrape.Concurrency
	if workers < 1 {
		workers = 1
	}

	work := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for id := range work {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := p.fetchOne(gctx, runID, id)
				if err != nil {
					failures.Add(1)
				} else {
					products.Add(int64(n))
				}
				jitterWait(gctx, p.cfg.GetMinDelay(), p.cfg.GetMaxDelay())
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, id := range ids {
			select {
			case work <- id:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logging.ScraperError("fetch pool: %v", err)
	}
	return int(products.Load()), int(failures.Load())
}

func (p *Pipeline) fetchOne(ctx context.Context, runID, id string) (int, error) {
	variants, err := p.fetcher.FetchProduct(ctx, id)
	if err != nil {
		logging.ScraperError("%v", err)
		failure := store.FetchFailure{ProductID: id, RunID: runID, Error: err.Error()}
		if fe, ok := err.(*FetchError); ok {
			failure.URL = fe.URL
			failure.StatusCode = fe.StatusCode
		}
		if rerr := p.store.RecordFailure(failure); rerr != nil {
			logging.StoreError("record failure for %s: %v", id, rerr)
		}
		return 0, err
	}

	stored := 0
	for _, v := range variants {
		v.RunID = runID
		if err := p.store.UpsertProduct(v); err != nil {
			logging.StoreError("upsert %s: %v", v.ProductID, err)
			continue
		}
		stored++
	}
	// A fresh success supersedes any failure from an earlier run
	if err := p.store.ClearFailure(id); err != nil {
		logging.StoreDebug("clear failure for %s: %v", id, err)
	}
	return stored, nil
}

// CategoriesFromLinks absolutizes and dedupes raw href/name pairs taken
// from the rendered page.
func CategoriesFromLinks(links map[string]string, baseURL string) []types.Category {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var cats []types.Category
	for href, name := range links {
		if !strings.HasPrefix(href, "/cn/") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			continue
		}
		seen[abs] = true
		cats = append(cats, types.Category{Name: name, URL: abs})
	}

	sort.Slice(cats, func(i, j int) bool { return cats[i].URL < cats[j].URL })
	return cats
}

func filterCategories(cats []types.Category, opts RunOptions) []types.Category {
	if len(opts.Categories) > 0 {
		var kept []types.Category
		for _, c := range cats {
			for _, want := range opts.Categories {
				w := strings.ToLower(want)
				if strings.Contains(strings.ToLower(c.Name), w) ||
					strings.Contains(strings.ToLower(c.URL), w) {
					kept = append(kept, c)
					break
				}
			}
		}
		cats = kept
	}
	if opts.MaxCategories > 0 && len(cats) > opts.MaxCategories {
		cats = cats[:opts.MaxCategories]
	}
	return cats
}

// jitterWait sleeps a random duration in [min, max] or until the context
// is cancelled.
func jitterWait(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
