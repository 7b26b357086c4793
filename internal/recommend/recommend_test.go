package recommend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cravehy/internal/config"
	"cravehy/internal/embedding"
	"cravehy/internal/profile"
	"cravehy/internal/store"
	"cravehy/internal/types"
)

func TestParseCartResponse(t *testing.T) {
	text := "Here is your cart:\n```json\n" +
		`{"items": [{"product_id": "1", "quantity": 2, "reason": "high protein"}], "explanation": "balanced"}` +
		"\n```"
	cart, err := ParseCartResponse(text)
	if err != nil {
		t.Fatalf("ParseCartResponse failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "1" || cart.Items[0].Quantity != 2 {
		t.Errorf("Parsed cart wrong: %+v", cart)
	}
	if cart.Explanation != "balanced" {
		t.Errorf("Explanation wrong: %q", cart.Explanation)
	}
}

func TestParseCartResponseDefaultsQuantity(t *testing.T) {
	cart, err := ParseCartResponse(`{"items": [{"product_id": "7"}], "explanation": ""}`)
	if err != nil {
		t.Fatalf("ParseCartResponse failed: %v", err)
	}
	if cart.Items[0].Quantity != 1 {
		t.Errorf("Missing quantity should default to 1, got %d", cart.Items[0].Quantity)
	}
}

func TestParseCartResponseErrors(t *testing.T) {
	cases := []string{
		"no json here",
		`{"items": []}`,
		`{"items": [{"quantity": 2}]}`,
		`{"items": [{"product_id": "1"`,
	}
	for _, c := range cases {
		if _, err := ParseCartResponse(c); err == nil {
			t.Errorf("Expected error for %q", c)
		}
	}
}

func TestBuildCartPrompt(t *testing.T) {
	prof := &profile.Profile{
		Name:      "dad",
		Diet:      profile.DietLowSodium,
		Allergies: []string{"peanut"},
		Limits:    []profile.NutrientLimit{{Key: "sodium_mg", Max: 400}},
	}
	products := []*types.Product{
		{
			ProductID: "1", Name: "Plain Oats", Brand: "Quaker", Unit: "1 kg", Price: 180,
			Nutrients: []types.Nutrient{{Key: "fiber_g", Value: 10}},
			Tags:      []string{"whole_grain"},
		},
	}
	prompt := BuildCartPrompt(prof, products, 1000, "healthy breakfast options")

	for _, want := range []string{
		"diet: low_sodium",
		"allergies: peanut",
		"sodium_mg at most 400.0",
		"Budget: 1000.00 INR",
		"Request: healthy breakfast options",
		"product_id=1 | Plain Oats (Quaker)",
		"fiber_g=10.0",
		"tags=whole_grain",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
}

// fakeLLM returns a canned completion and records the prompts.
type fakeLLM struct {
	completion string
	lastUser   string
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.lastUser = user
	return f.completion, nil
}
func (f *fakeLLM) Name() string { return "fake:test" }

func newCatalogStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	products := []*types.Product{
		{
			ProductID: "1", Name: "Plain Oats", Price: 180, Inventory: 5,
			Nutrients: []types.Nutrient{{Key: "fiber_g", Value: 10}},
		},
		{
			ProductID: "2", Name: "Peanut Chikki", Price: 60, Inventory: 5,
			Nutrients: []types.Nutrient{{Key: "sugar_g", Value: 45}},
			Tags:      []string{"peanut", "contains_added_sugar"},
		},
		{
			ProductID: "3", Name: "Greek Yogurt", Price: 120, Inventory: 5,
			Nutrients: []types.Nutrient{{Key: "protein_g", Value: 9}},
			Tags:      []string{"milk"},
		},
	}
	for _, p := range products {
		if err := st.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct failed: %v", err)
		}
	}

	prof := &profile.Profile{Name: "dad", Allergies: []string{"peanut"}, Budget: 500}
	if err := profile.Save(st, prof); err != nil {
		t.Fatalf("Save profile failed: %v", err)
	}
	return st
}

func TestRecommend(t *testing.T) {
	st := newCatalogStore(t)

	llm := &fakeLLM{completion: `{
		"items": [
			{"product_id": "1", "quantity": 2, "reason": "fiber"},
			{"product_id": "3", "quantity": 1, "reason": "protein"},
			{"product_id": "999", "quantity": 1, "reason": "invented"}
		],
		"explanation": "oats and yogurt"
	}`}

	r, err := NewRecommender(llm, st)
	if err != nil {
		t.Fatalf("NewRecommender failed: %v", err)
	}

	cart, err := r.Recommend(context.Background(), "dad", Options{})
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}

	// The hallucinated product is dropped
	if len(cart.Items) != 2 {
		t.Fatalf("Expected 2 items, got %+v", cart.Items)
	}
	if cart.Total() != 2*180+120 {
		t.Errorf("Total wrong: %.2f", cart.Total())
	}
	if cart.Budget != 500 {
		t.Errorf("Budget should come from the profile, got %.2f", cart.Budget)
	}

	// The peanut product never reaches the prompt
	if strings.Contains(llm.lastUser, "Peanut Chikki") {
		t.Error("Screened-out product leaked into the prompt")
	}

	// The cart is persisted
	saved, err := st.GetCart(cart.ID)
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if saved.Explanation != "oats and yogurt" || len(saved.Items) != 2 {
		t.Errorf("Persisted cart wrong: %+v", saved)
	}
}

func TestRecommendBudgetEnforced(t *testing.T) {
	st := newCatalogStore(t)

	llm := &fakeLLM{completion: `{
		"items": [
			{"product_id": "1", "quantity": 2, "reason": "fiber"},
			{"product_id": "3", "quantity": 3, "reason": "protein"}
		],
		"explanation": "over budget"
	}`}

	r, err := NewRecommender(llm, st)
	if err != nil {
		t.Fatalf("NewRecommender failed: %v", err)
	}

	// 2x180 = 360; 3x120 would push to 720. One yogurt still fits.
	cart, err := r.Recommend(context.Background(), "dad", Options{Budget: 480})
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if cart.Total() > 480 {
		t.Errorf("Cart exceeds budget: %.2f", cart.Total())
	}
	if len(cart.Items) != 2 || cart.Items[1].Quantity != 1 {
		t.Errorf("Expected yogurt reduced to one unit: %+v", cart.Items)
	}
}

// fakeRanker orders products by a fixed ID preference.
type fakeRanker struct{ order []string }

func (f *fakeRanker) Search(ctx context.Context, query string, limit int) ([]embedding.SearchResult, error) {
	results := make([]embedding.SearchResult, 0, len(f.order))
	for i, id := range f.order {
		results = append(results, embedding.SearchResult{
			Product: &types.Product{ProductID: id},
			Score:   1 - float64(i)*0.1,
		})
	}
	return results, nil
}

func TestRecommendRequestRanking(t *testing.T) {
	st := newCatalogStore(t)

	llm := &fakeLLM{completion: `{
		"items": [{"product_id": "3", "quantity": 1, "reason": "protein"}],
		"explanation": "yogurt it is"
	}`}

	r, err := NewRecommender(llm, st)
	if err != nil {
		t.Fatalf("NewRecommender failed: %v", err)
	}
	r.WithRanker(&fakeRanker{order: []string{"3", "1"}})

	// MaxCandidates 1 keeps only the best-ranked product
	cart, err := r.Recommend(context.Background(), "dad", Options{
		Request:       "something rich in protein",
		MaxCandidates: 1,
	})
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "3" {
		t.Errorf("Unexpected cart: %+v", cart.Items)
	}
	if !strings.Contains(llm.lastUser, "Request: something rich in protein") {
		t.Error("Request text missing from the prompt")
	}
	if strings.Contains(llm.lastUser, "Plain Oats") {
		t.Error("Ranked-out product leaked into the prompt")
	}
}

func TestRecommendNoBudget(t *testing.T) {
	st := newCatalogStore(t)
	prof := &profile.Profile{Name: "broke"}
	if err := profile.Save(st, prof); err != nil {
		t.Fatalf("Save profile failed: %v", err)
	}

	r, err := NewRecommender(&fakeLLM{}, st)
	if err != nil {
		t.Fatalf("NewRecommender failed: %v", err)
	}
	if _, err := r.Recommend(context.Background(), "broke", Options{}); err == nil {
		t.Error("Expected error without a budget")
	}
}

func TestZAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Unexpected auth header: %s", auth)
		}
		fmt.Fprint(w, `{"choices": [{"message": {"content": "  {\"items\": []}  "}}]}`)
	}))
	defer srv.Close()

	c := NewZAIClient(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "glm-4.6"})
	got, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != `{"items": []}` {
		t.Errorf("Completion not trimmed: %q", got)
	}
}

func TestGeminiClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("API key missing from query")
		}
		fmt.Fprint(w, `{"candidates": [{"content": {"parts": [{"text": "{\"items\""}, {"text": ": []}"}]}}]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL})
	got, err := c.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != `{"items": []}` {
		t.Errorf("Parts should be concatenated: %q", got)
	}
}
