package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"cravehy/internal/embedding"
	"cravehy/internal/logging"
	"cravehy/internal/profile"
	"cravehy/internal/rules"
	"cravehy/internal/store"
	"cravehy/internal/types"
)

const (
	defaultMaxCandidates = 120
	maxItemQuantity      = 10
)

// Options tune a single recommendation.
type Options struct {
	// Budget in rupees. Zero falls back to the profile's default.
	Budget float64
	// MaxCandidates caps how many products go into the prompt.
	MaxCandidates int
	// Request is free-text shopper intent ("snacks for a road trip").
	// Ranks candidates by semantic similarity when a ranker is wired.
	Request string
}

// Ranker orders catalog products against a free-text query. Satisfied
// by embedding.Indexer.
type Ranker interface {
	Search(ctx context.Context, query string, limit int) ([]embedding.SearchResult, error)
}

// Recommender builds and persists carts.
type Recommender struct {
	client   LLMClient
	store    *store.Store
	screener *rules.Screener
	ranker   Ranker
}

// NewRecommender wires an LLM client to the catalog.
func NewRecommender(client LLMClient, st *store.Store) (*Recommender, error) {
	screener, err := rules.NewScreener()
	if err != nil {
		return nil, err
	}
	return &Recommender{client: client, store: st, screener: screener}, nil
}

// WithRanker enables semantic candidate ranking for free-text requests.
func (r *Recommender) WithRanker(ranker Ranker) *Recommender {
	r.ranker = ranker
	return r
}

// Recommend builds a cart for the named profile, screens the catalog,
// prompts the model, enforces the budget and saves the result.
func (r *Recommender) Recommend(ctx context.Context, profileName string, opts Options) (*types.Cart, error) {
	timer := logging.StartTimer(logging.CategoryRecommend, "Recommend")
	defer timer.StopWithInfo()

	prof, err := profile.Load(r.store, profileName)
	if err != nil {
		return nil, err
	}

	budget := opts.Budget
	if budget <= 0 {
		budget = prof.Budget
	}
	if budget <= 0 {
		return nil, fmt.Errorf("no budget given and profile %q has no default", profileName)
	}

	candidates, err := r.store.Candidates()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("catalog has no in-stock products with nutrition data; run a scrape first")
	}

	eligible, err := r.screener.Eligible(candidates, prof)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no products pass screening for profile %q", profileName)
	}

	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	if opts.Request != "" && r.ranker != nil {
		eligible = r.rankByRequest(ctx, eligible, opts.Request)
	}
	if len(eligible) > maxCandidates {
		eligible = eligible[:maxCandidates]
	}

	logging.Recommend("Prompting %s with %d eligible products, budget %.2f", r.client.Name(), len(eligible), budget)

	userPrompt := BuildCartPrompt(prof, eligible, budget, opts.Request)
	completion, err := r.client.Complete(ctx, cartSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("LLM completion: %w", err)
	}

	parsed, err := ParseCartResponse(completion)
	if err != nil {
		return nil, err
	}

	cart, err := r.assembleCart(prof, parsed, eligible, budget)
	if err != nil {
		return nil, err
	}

	if err := r.store.SaveCart(cart); err != nil {
		return nil, err
	}
	logging.Recommend("Cart %s saved for %q: %d items, total %.2f", cart.ID, profileName, len(cart.Items), cart.Total())
	return cart, nil
}

// rankByRequest reorders eligible products so the ones closest to the
// request come first. Unembedded products keep their relative order at
// the tail; ranking failures fall back to the unranked order.
func (r *Recommender) rankByRequest(ctx context.Context, eligible []*types.Product, request string) []*types.Product {
	results, err := r.ranker.Search(ctx, request, len(eligible))
	if err != nil {
		logging.RecommendDebug("semantic ranking unavailable: %v", err)
		return eligible
	}

	rank := make(map[string]int, len(results))
	for i, res := range results {
		rank[res.Product.ProductID] = i
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ri, iOK := rank[eligible[i].ProductID]
		rj, jOK := rank[eligible[j].ProductID]
		if iOK != jOK {
			return iOK
		}
		return ri < rj
	})
	return eligible
}

// assembleCart validates the model's picks against the eligible set and
// enforces the budget. Items the model invented are dropped; items that
// would blow the budget are dropped from the end.
func (r *Recommender) assembleCart(prof *profile.Profile, parsed *llmCart, eligible []*types.Product, budget float64) (*types.Cart, error) {
	byID := make(map[string]*types.Product, len(eligible))
	for _, p := range eligible {
		byID[p.ProductID] = p
	}

	cart := &types.Cart{
		ID:          uuid.NewString(),
		ProfileName: prof.Name,
		Budget:      budget,
		Explanation: parsed.Explanation,
		CreatedAt:   time.Now(),
	}

	total := 0.0
	for _, item := range parsed.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			logging.Recommend("Dropping hallucinated product %s", item.ProductID)
			continue
		}
		qty := item.Quantity
		if qty > maxItemQuantity {
			qty = maxItemQuantity
		}
		cost := p.Price * float64(qty)
		if total+cost > budget {
			// Try a single unit before giving up on the item
			if qty > 1 && total+p.Price <= budget {
				qty = 1
				cost = p.Price
			} else {
				logging.Recommend("Dropping %s: would exceed budget (%.2f + %.2f > %.2f)",
					p.ProductID, total, cost, budget)
				continue
			}
		}
		total += cost
		cart.Items = append(cart.Items, types.CartItem{
			ProductID: p.ProductID,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: p.Price,
			Reason:    item.Reason,
		})
	}

	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("no valid cart items within budget %.2f", budget)
	}
	return cart, nil
}
