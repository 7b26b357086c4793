package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cravehy/internal/config"
	"cravehy/internal/logging"
	"cravehy/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cravehy",
	Short: "cravehy - grocery catalog scraper and health-aware cart builder",
	Long: `cravehy scrapes a quick-commerce grocery catalog, normalizes the
nutrition labels, screens products against health profiles with a
Datalog rule engine, and asks an LLM to build carts within a budget.

Typical flow:
  cravehy scrape --location "Gurgaon"     # build the catalog
  cravehy profile set --file dad.json     # define who is shopping
  cravehy recommend dad --budget 1500     # get a cart`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if configPath == "" {
			configPath = config.DefaultPath()
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := logging.Initialize(cwd); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./cravehy.yaml)")

	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(cartsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

// openStore opens the configured catalog database.
func openStore() (*store.Store, error) {
	return store.NewStore(cfg.Store.DatabasePath)
}
