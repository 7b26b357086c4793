package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cravehy/internal/embedding"
	"cravehy/internal/recommend"
	"cravehy/internal/store"
)

var (
	recommendBudget     float64
	recommendCandidates int
	cartsProfile        string
	indexReindex        bool
	searchLimit         int
)

var recommendCmd = &cobra.Command{
	Use:   "recommend [profile] [request...]",
	Short: "Build a cart for a profile with the configured LLM",
	Long: `Screens the catalog against the profile's allergies, diet and
nutrient limits, then asks the LLM to fill a cart within the budget.
Extra arguments become a free-text request; with an embedding key set,
the closest matches are offered to the model first. The cart is saved
and printed.

Examples:
  cravehy recommend dad
  cravehy recommend dad --budget 1000
  cravehy recommend dad snacks for a road trip`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecommend,
}

var cartsCmd = &cobra.Command{
	Use:   "carts",
	Short: "List saved carts",
	RunE:  runCarts,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed catalog products for semantic search",
	RunE:  runIndex,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over the catalog",
	Long: `Embeds the query and returns the closest products by vector
similarity. Run 'cravehy index' first.

Example:
  cravehy search "high protein evening snack"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	recommendCmd.Flags().Float64Var(&recommendBudget, "budget", 0, "Cart budget in INR (default: profile budget)")
	recommendCmd.Flags().IntVar(&recommendCandidates, "max-candidates", 0, "Cap products offered to the LLM")

	cartsCmd.Flags().StringVar(&cartsProfile, "profile", "", "Only carts for this profile")

	indexCmd.Flags().BoolVar(&indexReindex, "reindex", false, "Re-embed products that already have vectors")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum results")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := cfg.RequireLLMKey(); err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := recommend.NewClient(cfg.LLM)
	if err != nil {
		return err
	}

	r, err := recommend.NewRecommender(client, st)
	if err != nil {
		return err
	}

	request := strings.Join(args[1:], " ")
	if request != "" && cfg.Embedding.APIKey != "" {
		engine, err := embedding.NewEngine(embedding.Config{
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err == nil {
			r.WithRanker(embedding.NewIndexer(engine, st))
		}
	}

	cart, err := r.Recommend(ctx, args[0], recommend.Options{
		Budget:        recommendBudget,
		MaxCandidates: recommendCandidates,
		Request:       request,
	})
	if err != nil {
		return err
	}

	fmt.Println(renderCart(cart))
	return nil
}

func runCarts(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	carts, err := st.ListCarts(cartsProfile)
	if err != nil {
		return err
	}
	if len(carts) == 0 {
		fmt.Println("No carts yet. Build one with 'cravehy recommend'.")
		return nil
	}
	for _, c := range carts {
		fmt.Printf("%s  %s  %d items  total %.2f / budget %.2f  (%s)\n",
			c.CreatedAt.Format("2006-01-02 15:04"), c.ProfileName, len(c.Items), c.Total(), c.Budget, c.ID)
	}
	return nil
}

// newIndexer opens the store and wires an embedding engine to it. The
// caller owns the returned store and must close it.
func newIndexer() (*embedding.Indexer, *store.Store, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	engine, err := embedding.NewEngine(embedding.Config{
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return embedding.NewIndexer(engine, st), st, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ix, st, err := newIndexer()
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := ix.IndexProducts(ctx, indexReindex)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d products (%d already embedded)\n", result.Indexed, result.Skipped)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ix, st, err := newIndexer()
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := ix.Search(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matches. Run 'cravehy index' to embed the catalog first.")
		return nil
	}
	fmt.Println(renderSearchResults(results))
	return nil
}
