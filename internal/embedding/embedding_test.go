package embedding

import (
	"context"
	"strings"
	"testing"

	"cravehy/internal/store"
	"cravehy/internal/types"
)

// fakeEngine returns canned vectors keyed by a substring of the text.
type fakeEngine struct {
	vectors map[string][]float32
	calls   int
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	for key, vec := range f.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return []float32{0, 0, 0, 1}, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.Embed(ctx, text)
}

func (f *fakeEngine) Dimensions() int { return 4 }
func (f *fakeEngine) Name() string    { return "fake:test" }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func candidate(id, name string) *types.Product {
	return &types.Product{
		ProductID: id,
		Name:      name,
		Inventory: 5,
		Price:     50,
		Nutrients: []types.Nutrient{{Key: "energy_kcal", Value: 100, Unit: "kcal"}},
	}
}

func TestNormalizeTaskType(t *testing.T) {
	cases := map[string]string{
		"":                   "RETRIEVAL_DOCUMENT",
		"RETRIEVAL_DOCUMENT": "RETRIEVAL_DOCUMENT",
		"RETRIEVAL_QUERY":    "RETRIEVAL_QUERY",
		"CLUSTERING":         "CLUSTERING",
		"bogus":              "RETRIEVAL_DOCUMENT",
	}
	for in, want := range cases {
		if got := normalizeTaskType(in); got != want {
			t.Errorf("normalizeTaskType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProductText(t *testing.T) {
	p := &types.Product{
		Name:       "Aloo Bhujia",
		Brand:      "Haldiram's",
		CategoryL0: "Munchies",
		Unit:       "400 g",
		Tags:       []string{"fried", "gluten"},
	}
	text := ProductText(p)
	for _, want := range []string{"Aloo Bhujia", "Haldiram's", "Munchies", "fried gluten"} {
		if !strings.Contains(text, want) {
			t.Errorf("ProductText missing %q: %s", want, text)
		}
	}
	if strings.Contains(text, "||") {
		t.Errorf("Empty fields should be dropped, got %s", text)
	}
}

func TestIndexProducts(t *testing.T) {
	st := newTestStore(t)
	for _, p := range []*types.Product{
		candidate("1", "Aloo Bhujia"),
		candidate("2", "Plain Oats"),
	} {
		if err := st.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct failed: %v", err)
		}
	}

	engine := &fakeEngine{vectors: map[string][]float32{
		"Bhujia": {1, 0, 0, 0},
		"Oats":   {0, 1, 0, 0},
	}}
	ix := NewIndexer(engine, st)

	result, err := ix.IndexProducts(context.Background(), false)
	if err != nil {
		t.Fatalf("IndexProducts failed: %v", err)
	}
	if result.Indexed != 2 || result.Skipped != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}

	// Second pass skips already-embedded products
	result, err = ix.IndexProducts(context.Background(), false)
	if err != nil {
		t.Fatalf("Second IndexProducts failed: %v", err)
	}
	if result.Indexed != 0 || result.Skipped != 2 {
		t.Errorf("Expected all skipped, got %+v", result)
	}

	// Reindex embeds everything again
	result, err = ix.IndexProducts(context.Background(), true)
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if result.Indexed != 2 {
		t.Errorf("Reindex should embed all, got %+v", result)
	}
}

func TestSearch(t *testing.T) {
	st := newTestStore(t)
	for _, p := range []*types.Product{
		candidate("1", "Aloo Bhujia"),
		candidate("2", "Plain Oats"),
	} {
		if err := st.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct failed: %v", err)
		}
	}

	engine := &fakeEngine{vectors: map[string][]float32{
		"Bhujia":  {1, 0, 0, 0},
		"Oats":    {0, 1, 0, 0},
		"healthy": {0, 0.9, 0.1, 0},
	}}
	ix := NewIndexer(engine, st)
	if _, err := ix.IndexProducts(context.Background(), false); err != nil {
		t.Fatalf("IndexProducts failed: %v", err)
	}

	results, err := ix.Search(context.Background(), "healthy breakfast", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Product.ProductID != "2" {
		t.Errorf("Oats should rank first for the oat-like query, got %s", results[0].Product.ProductID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("Scores should be descending: %v", results)
	}
}
