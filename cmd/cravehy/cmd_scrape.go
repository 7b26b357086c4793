package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"cravehy/internal/browser"
	"cravehy/internal/scraper"
)

var (
	scrapeCategories    []string
	scrapeMaxCategories int
	scrapeMaxProducts   int
	scrapeIDs           []string
	scrapeLocation      string
	retryLogPath        string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the catalog: discover categories, walk listings, fetch product details",
	Long: `Runs the full scrape pipeline. A browser session sets the delivery
location and walks the listing pages; product details are fetched over
plain HTTP. Failures are recorded and can be replayed with 'cravehy retry'.

Examples:
  cravehy scrape
  cravehy scrape --category munchies --category "sweet tooth"
  cravehy scrape --id 380156 --id 380157`,
	RunE: runScrape,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Refetch products whose detail fetch previously failed",
	Long: `Replays recorded fetch failures. Products that now fetch cleanly are
stored and removed from the failure table; persistent failures have
their attempt counter bumped.

With --from-log, product IDs blocked with 403 are first recovered from
scraper log text and seeded into the failure table.`,
	RunE: runRetry,
}

var browseCmd = &cobra.Command{
	Use:   "browse [url]",
	Short: "Open a visible browser on the scraping profile",
	Long: `Opens a non-headless browser on the same persistent profile the
scraper uses. Solve the retailer's bot challenge or adjust the delivery
location by hand; later headless runs reuse the resulting cookies.
Press Ctrl+C to finish.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBrowse,
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&scrapeCategories, "category", nil, "Only scrape categories matching this substring (repeatable)")
	scrapeCmd.Flags().IntVar(&scrapeMaxCategories, "max-categories", 0, "Cap the number of categories walked")
	scrapeCmd.Flags().IntVar(&scrapeMaxProducts, "limit-products", 0, "Cap the number of products fetched")
	scrapeCmd.Flags().StringSliceVar(&scrapeIDs, "id", nil, "Skip discovery and fetch just these product IDs (repeatable)")
	scrapeCmd.Flags().StringVar(&scrapeLocation, "location", "", "Delivery location query (overrides config)")

	retryCmd.Flags().StringVar(&retryLogPath, "from-log", "", "Seed failures from a scraper log file first")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// browserConfig maps scrape config onto the browser session manager.
func browserConfig() browser.Config {
	bcfg := browser.DefaultConfig()
	bcfg.Bin = cfg.Scrape.BrowserBin
	bcfg.Headless = cfg.IsHeadless()
	bcfg.UserDataDir = filepath.Join(".cravehy", "chrome-profile")
	bcfg.SessionStore = filepath.Join(".cravehy", "sessions.json")
	return bcfg
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if scrapeLocation != "" {
		cfg.Scrape.Location = scrapeLocation
	}

	mgr := browser.NewSessionManager(browserConfig())
	defer mgr.Shutdown(context.Background())

	pipeline := scraper.NewPipeline(cfg, st, mgr, nil)
	result, err := pipeline.Run(ctx, scraper.RunOptions{
		Categories:    scrapeCategories,
		MaxCategories: scrapeMaxCategories,
		MaxProducts:   scrapeMaxProducts,
		ProductIDs:    scrapeIDs,
	})
	if result != nil {
		fmt.Println(renderRunResult(result))
	}
	return err
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if retryLogPath != "" {
		data, err := os.ReadFile(retryLogPath)
		if err != nil {
			return fmt.Errorf("read log %s: %w", retryLogPath, err)
		}
		ids := scraper.ExtractFailedIDs(string(data))
		if len(ids) > 0 {
			if err := scraper.RetrySeed(st, ids); err != nil {
				return err
			}
			fmt.Printf("Seeded %d blocked product IDs from %s\n", len(ids), retryLogPath)
		}
	}

	pipeline := scraper.NewPipeline(cfg, st, nil, nil)
	result, err := pipeline.RetryFailures(ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderRetryResult(result))
	return nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	url := cfg.Scrape.BaseURL
	if len(args) > 0 {
		url = args[0]
	}

	fmt.Printf("Opening browser at %s, press Ctrl+C when done\n", url)
	return browser.RunInteractive(ctx, browserConfig(), url)
}
