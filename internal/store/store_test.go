package store

import (
	"encoding/json"
	"testing"

	"cravehy/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleProduct(id string) *types.Product {
	return &types.Product{
		ProductID:  id,
		GroupID:    "g1",
		Name:       "Peanut Butter Crunchy",
		Brand:      "Pintola",
		CategoryL0: "Breakfast",
		CategoryL1: "Spreads",
		Unit:       "350 g",
		Price:      249,
		MRP:        299,
		Inventory:  12,
		ProductURL: "https://blinkit.com/prn/product/prid/" + id,
		ImageURLs:  []string{"https://cdn.example/img1.jpg"},
		Ingredients: "Roasted Peanuts, Salt",
		NutritionRaw: "Per 100 g\nEnergy: 589 kcal\nProtein: 25 g",
		ServingSize:  "100 g",
		Nutrients: []types.Nutrient{
			{Key: "energy_kcal", Value: 589, Unit: "kcal", Raw: "589 kcal"},
			{Key: "protein_g", Value: 25, Unit: "g", Raw: "25 g"},
		},
		Tags:  []string{"peanut"},
		RunID: "run-1",
	}
}

func TestUpsertAndGetProduct(t *testing.T) {
	s := newTestStore(t)

	p := sampleProduct("1001")
	if err := s.UpsertProduct(p); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	got, err := s.GetProduct("1001")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Name != p.Name || got.Brand != p.Brand || got.Price != p.Price {
		t.Errorf("Product fields mismatch: %+v", got)
	}
	if len(got.Nutrients) != 2 {
		t.Errorf("Expected 2 nutrients, got %d", len(got.Nutrients))
	}
	if v, ok := got.Nutrient("protein_g"); !ok || v != 25 {
		t.Errorf("protein_g = %v, %v", v, ok)
	}
	if !got.HasTag("peanut") {
		t.Error("Expected peanut tag")
	}
	if len(got.ImageURLs) != 1 {
		t.Errorf("Image URLs not round-tripped: %v", got.ImageURLs)
	}
}

func TestUpsertReplacesNutrients(t *testing.T) {
	s := newTestStore(t)

	p := sampleProduct("1001")
	if err := s.UpsertProduct(p); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	// Re-scrape with different nutrition
	p.Nutrients = []types.Nutrient{{Key: "energy_kcal", Value: 600, Unit: "kcal"}}
	p.Tags = nil
	p.Price = 259
	if err := s.UpsertProduct(p); err != nil {
		t.Fatalf("Second UpsertProduct failed: %v", err)
	}

	got, err := s.GetProduct("1001")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Price != 259 {
		t.Errorf("Price not updated: %v", got.Price)
	}
	if len(got.Nutrients) != 1 || got.Nutrients[0].Value != 600 {
		t.Errorf("Nutrients not replaced: %+v", got.Nutrients)
	}
	if len(got.Tags) != 0 {
		t.Errorf("Tags not cleared: %v", got.Tags)
	}
}

func TestListProductsFilter(t *testing.T) {
	s := newTestStore(t)

	p1 := sampleProduct("1")
	p2 := sampleProduct("2")
	p2.Name = "Whole Wheat Atta"
	p2.Brand = "Aashirvaad"
	p2.CategoryL0 = "Staples"
	p2.Inventory = 0
	p2.Price = 400
	for _, p := range []*types.Product{p1, p2} {
		if err := s.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct failed: %v", err)
		}
	}

	got, err := s.ListProducts(ProductFilter{InStockOnly: true})
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "1" {
		t.Errorf("InStockOnly filter wrong: %d results", len(got))
	}

	got, err = s.ListProducts(ProductFilter{NameLike: "Atta"})
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "2" {
		t.Errorf("NameLike filter wrong: %d results", len(got))
	}

	got, err = s.ListProducts(ProductFilter{MaxPrice: 300})
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "1" {
		t.Errorf("MaxPrice filter wrong: %d results", len(got))
	}
}

func TestCandidatesRequireNutrition(t *testing.T) {
	s := newTestStore(t)

	withNutrition := sampleProduct("1")
	bare := sampleProduct("2")
	bare.Nutrients = nil
	outOfStock := sampleProduct("3")
	outOfStock.Inventory = 0

	for _, p := range []*types.Product{withNutrition, bare, outOfStock} {
		if err := s.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct failed: %v", err)
		}
	}

	got, err := s.Candidates()
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != "1" {
		t.Errorf("Expected only product 1 as candidate, got %d results", len(got))
	}
}

func TestCategories(t *testing.T) {
	s := newTestStore(t)

	cats := []types.Category{
		{Name: "Dairy", URL: "https://blinkit.com/cn/dairy/cid/1"},
		{Name: "Snacks", URL: "https://blinkit.com/cn/snacks/cid/2"},
	}
	if err := s.UpsertCategories(cats); err != nil {
		t.Fatalf("UpsertCategories failed: %v", err)
	}
	// Renames update in place
	cats[0].Name = "Dairy & Eggs"
	if err := s.UpsertCategories(cats[:1]); err != nil {
		t.Fatalf("Second UpsertCategories failed: %v", err)
	}

	got, err := s.ListCategories()
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(got))
	}
	if got[0].Name != "Dairy & Eggs" {
		t.Errorf("Category rename not applied: %s", got[0].Name)
	}
}

func TestRunsAndFailures(t *testing.T) {
	s := newTestStore(t)

	if err := s.StartRun("run-1"); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	f := FetchFailure{ProductID: "42", RunID: "run-1", URL: "https://blinkit.com/prn/product/prid/42", StatusCode: 403, Error: "forbidden"}
	if err := s.RecordFailure(f); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	// Second failure bumps attempts
	if err := s.RecordFailure(f); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	failures, err := s.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(failures))
	}
	if failures[0].Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", failures[0].Attempts)
	}
	if failures[0].StatusCode != 403 {
		t.Errorf("Status code not stored: %d", failures[0].StatusCode)
	}

	if err := s.FinishRun("run-1", 5, 100, 1, "completed"); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	run, err := s.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if run == nil || run.Products != 100 || run.Status != "completed" {
		t.Errorf("Run summary wrong: %+v", run)
	}

	if err := s.ClearFailure("42"); err != nil {
		t.Fatalf("ClearFailure failed: %v", err)
	}
	failures, _ = s.ListFailures()
	if len(failures) != 0 {
		t.Errorf("Failure not cleared: %d remain", len(failures))
	}
}

func TestProfilesAndCarts(t *testing.T) {
	s := newTestStore(t)

	doc, _ := json.Marshal(map[string]interface{}{"diet": "vegetarian"})
	if err := s.SaveProfile("family", doc); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	got, err := s.GetProfile("family")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(got, &parsed); err != nil {
		t.Fatalf("Profile JSON corrupt: %v", err)
	}
	if parsed["diet"] != "vegetarian" {
		t.Errorf("Profile content wrong: %v", parsed)
	}

	if _, err := s.GetProfile("missing"); err == nil {
		t.Error("Expected error for missing profile")
	}

	cart := &types.Cart{
		ID:          "cart-1",
		ProfileName: "family",
		Budget:      1500,
		Explanation: "balanced weekly basket",
		Items: []types.CartItem{
			{ProductID: "1", Name: "Peanut Butter", Quantity: 1, UnitPrice: 249, Reason: "protein"},
			{ProductID: "2", Name: "Atta", Quantity: 2, UnitPrice: 400},
		},
	}
	if err := s.SaveCart(cart); err != nil {
		t.Fatalf("SaveCart failed: %v", err)
	}

	loaded, err := s.GetCart("cart-1")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if len(loaded.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(loaded.Items))
	}
	if loaded.Total() != 249+800 {
		t.Errorf("Cart total wrong: %v", loaded.Total())
	}

	carts, err := s.ListCarts("family")
	if err != nil {
		t.Fatalf("ListCarts failed: %v", err)
	}
	if len(carts) != 1 || carts[0].ID != "cart-1" {
		t.Errorf("ListCarts wrong: %d results", len(carts))
	}
}

func TestEmbeddingsAndSimilarity(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []*types.Product{sampleProduct("1"), sampleProduct("2"), sampleProduct("3")} {
		if err := s.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct failed: %v", err)
		}
	}

	vecs := map[string][]float32{
		"1": {1, 0, 0, 0},
		"2": {0.9, 0.1, 0, 0},
		"3": {0, 0, 1, 0},
	}
	for id, v := range vecs {
		if err := s.UpsertEmbedding(id, v, "test-model"); err != nil {
			t.Fatalf("UpsertEmbedding failed: %v", err)
		}
	}

	got, err := s.GetEmbedding("1")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(got) != 4 || got[0] != 1 {
		t.Errorf("Embedding not round-tripped: %v", got)
	}

	hits, err := s.SimilarProducts([]float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SimilarProducts failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}
	if hits[0].ProductID != "1" || hits[1].ProductID != "2" {
		t.Errorf("Similarity order wrong: %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("Scores not descending: %+v", hits)
	}

	ids, err := s.EmbeddedProductIDs()
	if err != nil {
		t.Fatalf("EmbeddedProductIDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("Expected 3 embedded IDs, got %d", len(ids))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("Identical vectors should score ~1, got %v", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Orthogonal vectors should score 0, got %v", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("Mismatched lengths should score 0, got %v", got)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProduct(sampleProduct("1")); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats["products"] != 1 {
		t.Errorf("Expected 1 product in stats, got %d", stats["products"])
	}
	if stats["product_nutrients"] != 2 {
		t.Errorf("Expected 2 nutrients in stats, got %d", stats["product_nutrients"])
	}
}

func TestExportProducts(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProduct(sampleProduct("1")); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	data, err := s.ExportProducts()
	if err != nil {
		t.Fatalf("ExportProducts failed: %v", err)
	}
	var products []types.Product
	if err := json.Unmarshal(data, &products); err != nil {
		t.Fatalf("Export JSON invalid: %v", err)
	}
	if len(products) != 1 || products[0].ProductID != "1" {
		t.Errorf("Export content wrong: %d products", len(products))
	}
}
