package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"cravehy/internal/browser"
	"cravehy/internal/config"
	"cravehy/internal/store"
	"cravehy/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const categoriesFixture = `<html><body>
<a href="/cn/munchies/bhujia-mixtures/cid/1237/1178"><div>Bhujia &amp; Mixtures</div></a>
<a href="/cn/sweet-tooth/chocolates/cid/8/950"><div>Chocolates</div></a>
<a href="/cn/munchies/bhujia-mixtures/cid/1237/1178"><div>Bhujia &amp; Mixtures</div></a>
<a href="/s/promo"><div>Not a category</div></a>
</body></html>`

func TestParseCategories(t *testing.T) {
	cats, err := ParseCategories(categoriesFixture, "https://blinkit.com")
	if err != nil {
		t.Fatalf("ParseCategories failed: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("Expected 2 categories, got %d: %+v", len(cats), cats)
	}
	if cats[0].URL != "https://blinkit.com/cn/munchies/bhujia-mixtures/cid/1237/1178" {
		t.Errorf("Unexpected first URL: %s", cats[0].URL)
	}
	if cats[0].Name != "Bhujia & Mixtures" {
		t.Errorf("Unexpected first name: %q", cats[0].Name)
	}
	if cats[1].Name != "Chocolates" {
		t.Errorf("Unexpected second name: %q", cats[1].Name)
	}
}

func TestParseCategoriesNoLinks(t *testing.T) {
	cats, err := ParseCategories("<html><body><p>nothing here</p></body></html>", "https://blinkit.com")
	if err != nil {
		t.Fatalf("ParseCategories failed: %v", err)
	}
	if len(cats) != 0 {
		t.Errorf("Expected no categories, got %d", len(cats))
	}
}

func pdpFixture(state string) string {
	return fmt.Sprintf(
		`<html><head><script>window.grofers.PRELOADED_STATE = %s;</script></head><body></body></html>`,
		state,
	)
}

const variantsState = `{
	"data": {"ui": {"pdp": {"rawData": {"data": {
		"variants_info": [
			{
				"id": 380156,
				"group_id": 110417,
				"name": "Aloo Bhujia (Brace \"{\" in name)",
				"brand": "Haldiram's",
				"level0_category": [{"name": "Munchies"}],
				"level1_category": [{"name": "Bhujia & Mixtures"}],
				"unit": "400 g",
				"price": 95,
				"mrp": 110,
				"inventory": 12,
				"assets": [{"url": "https://cdn.example/380156.jpg"}],
				"attribute_collection": [
					{"title": "Nutrition Information", "value": "Per 100 g\nEnergy: 550 kcal\nProtein: 12 g\nSodium: 0.8 g"},
					{"title": "Ingredients", "value": "Gram Flour, Edible Oil, Salt"},
					{"title": "Key Features", "value": "Crunchy"}
				]
			},
			{
				"id": 380157,
				"group_id": 110417,
				"name": "Aloo Bhujia",
				"brand": "Haldiram's",
				"unit": "1 kg",
				"price": 210,
				"mrp": 240,
				"inventory": 0,
				"assets": [],
				"attribute_collection": []
			}
		]
	}}}}}
}`

func TestParseProductPageVariants(t *testing.T) {
	products, err := ParseProductPage(pdpFixture(variantsState), "https://blinkit.com/prn/product/prid/380156")
	if err != nil {
		t.Fatalf("ParseProductPage failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(products))
	}

	p := products[0]
	if p.ProductID != "380156" || p.GroupID != "110417" {
		t.Errorf("IDs wrong: %s / %s", p.ProductID, p.GroupID)
	}
	if p.Brand != "Haldiram's" || p.CategoryL0 != "Munchies" || p.CategoryL1 != "Bhujia & Mixtures" {
		t.Errorf("Brand/categories wrong: %+v", p)
	}
	if p.Price != 95 || p.MRP != 110 || p.Inventory != 12 {
		t.Errorf("Pricing wrong: %+v", p)
	}
	if p.ProductURL != "https://blinkit.com/prn/product/prid/380156" {
		t.Errorf("Product URL wrong: %s", p.ProductURL)
	}
	if len(p.ImageURLs) != 1 || p.ImageURLs[0] != "https://cdn.example/380156.jpg" {
		t.Errorf("Images wrong: %v", p.ImageURLs)
	}
	if p.Ingredients != "Gram Flour, Edible Oil, Salt" || p.KeyFeatures != "Crunchy" {
		t.Errorf("Attributes wrong: %+v", p)
	}

	// Nutrition should already be parsed and normalized
	if p.ServingSize != "100 g" {
		t.Errorf("Serving size wrong: %q", p.ServingSize)
	}
	if v, ok := p.Nutrient("energy_kcal"); !ok || v != 550 {
		t.Errorf("energy_kcal wrong: %v %v", v, ok)
	}
	if v, ok := p.Nutrient("sodium_mg"); !ok || v != 800 {
		t.Errorf("sodium_mg should be normalized to mg: %v %v", v, ok)
	}
	if p.HasTag("gluten") {
		t.Errorf("Gram flour carries no gluten keyword, tags: %v", p.Tags)
	}

	second := products[1]
	if second.ProductID != "380157" {
		t.Errorf("Second variant ID wrong: %s", second.ProductID)
	}
	if second.ProductURL != "https://blinkit.com/prn/product/prid/380157" {
		t.Errorf("Second variant URL not rewritten: %s", second.ProductURL)
	}
	if second.InStock() {
		t.Error("Zero inventory should not be in stock")
	}
}

func TestParseProductPageSingleProductFallback(t *testing.T) {
	state := `{"data": {"ui": {"pdp": {"rawData": {"data": {
		"product": {"id": 42, "name": "Plain Curd", "price": 35, "inventory": 3}
	}}}}}}`
	products, err := ParseProductPage(pdpFixture(state), "https://blinkit.com/prn/product/prid/42")
	if err != nil {
		t.Fatalf("ParseProductPage failed: %v", err)
	}
	if len(products) != 1 || products[0].ProductID != "42" || products[0].Name != "Plain Curd" {
		t.Errorf("Fallback product wrong: %+v", products)
	}
}

func TestParseProductPageMissingState(t *testing.T) {
	if _, err := ParseProductPage("<html><body></body></html>", "https://blinkit.com/prn/product/prid/1"); err == nil {
		t.Error("Expected error for page without preloaded state")
	}
}

func TestExtractPreloadedStateBracesInStrings(t *testing.T) {
	page := pdpFixture(`{"a": "open { brace and escaped \" quote", "b": {"c": 1}}`)
	raw, err := extractPreloadedState(page)
	if err != nil {
		t.Fatalf("extractPreloadedState failed: %v", err)
	}
	want := `{"a": "open { brace and escaped \" quote", "b": {"c": 1}}`
	if string(raw) != want {
		t.Errorf("Extracted %q, want %q", raw, want)
	}
}

func TestFetcherStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/prn/product/prid/380156", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("Request carried no User-Agent")
		}
		fmt.Fprint(w, pdpFixture(variantsState))
	})
	mux.HandleFunc("/prn/product/prid/999", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/prn/product/prid/888", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/blocked")
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(srv.URL, 0)
	ctx := context.Background()

	products, err := f.FetchProduct(ctx, "380156")
	if err != nil {
		t.Fatalf("FetchProduct failed: %v", err)
	}
	if len(products) != 2 {
		t.Errorf("Expected 2 variants, got %d", len(products))
	}

	_, err = f.FetchProduct(ctx, "999")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 FetchError, got %v", err)
	}

	_, err = f.FetchProduct(ctx, "888")
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusFound {
		t.Errorf("Redirects should surface as FetchError, got %v", err)
	}
}

func TestFetchProductRetriesRateLimit(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/prn/product/prid/380156", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, pdpFixture(variantsState))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(srv.URL, 0)
	products, err := f.FetchProduct(context.Background(), "380156")
	if err != nil {
		t.Fatalf("FetchProduct should retry past a 429: %v", err)
	}
	if len(products) != 2 {
		t.Errorf("Expected 2 variants after retry, got %d", len(products))
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}

func TestCategoriesFromLinks(t *testing.T) {
	links := map[string]string{
		"/cn/munchies/bhujia-mixtures/cid/1237/1178": "Bhujia & Mixtures",
		"/cn/sweet-tooth/chocolates/cid/8/950":       "Chocolates",
		"/s/promo": "Promo",
	}
	cats := CategoriesFromLinks(links, "https://blinkit.com")
	if len(cats) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(cats))
	}
	if cats[0].URL >= cats[1].URL {
		t.Error("Categories not sorted by URL")
	}
}

func TestFilterCategories(t *testing.T) {
	cats := []types.Category{
		{Name: "Chocolates", URL: "https://blinkit.com/cn/sweet-tooth/chocolates/cid/8/950"},
		{Name: "Bhujia & Mixtures", URL: "https://blinkit.com/cn/munchies/bhujia-mixtures/cid/1237/1178"},
		{Name: "Chips & Crisps", URL: "https://blinkit.com/cn/munchies/chips-crisps/cid/1237/940"},
	}

	got := filterCategories(cats, RunOptions{Categories: []string{"munchies"}})
	if len(got) != 2 {
		t.Errorf("Substring filter on URL failed: %+v", got)
	}

	got = filterCategories(cats, RunOptions{Categories: []string{"chocolate"}})
	if len(got) != 1 || got[0].Name != "Chocolates" {
		t.Errorf("Substring filter on name failed: %+v", got)
	}

	got = filterCategories(cats, RunOptions{MaxCategories: 1})
	if len(got) != 1 {
		t.Errorf("MaxCategories cap failed: %+v", got)
	}
}

func TestExtractFailedIDs(t *testing.T) {
	logText := `
{"ts":"...","msg":"PDP fetch failed (ID: 380156): status 403: Forbidden"}
{"ts":"...","msg":"PDP fetch failed (ID: 12345): status 404: Not Found"}
{"ts":"...","msg":"PDP fetch failed (ID: 99): status 403: Forbidden"}
{"ts":"...","msg":"PDP fetch failed (ID: 380156): status 403: Forbidden"}
`
	ids := ExtractFailedIDs(logText)
	want := []string{"380156", "99"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ExtractFailedIDs = %v, want %v", ids, want)
	}

	if got := ExtractFailedIDs("no failures here"); len(got) != 0 {
		t.Errorf("Expected no IDs, got %v", got)
	}
}

// stubDriver satisfies Driver without a real browser.
type stubDriver struct {
	links    map[string]string
	listings map[string][]string // category URL -> product IDs
	current  string
}

func (d *stubDriver) CreateSession(ctx context.Context, url string) (*browser.Session, error) {
	return &browser.Session{ID: "stub", URL: url}, nil
}
func (d *stubDriver) CloseSession(sessionID string) error { return nil }
func (d *stubDriver) SetLocation(ctx context.Context, sessionID, location string) error {
	return nil
}
func (d *stubDriver) Navigate(ctx context.Context, sessionID, url string) error {
	d.current = url
	return nil
}
func (d *stubDriver) CollectListing(ctx context.Context, sessionID string, max int) ([]string, error) {
	return d.listings[d.current], nil
}
func (d *stubDriver) CategoryLinks(ctx context.Context, sessionID string) (map[string]string, error) {
	return d.links, nil
}

// stubFetcher serves canned products and failures keyed by ID.
type stubFetcher struct {
	products map[string][]*types.Product
	errors   map[string]error
}

func (f *stubFetcher) FetchProduct(ctx context.Context, id string) ([]*types.Product, error) {
	if err, ok := f.errors[id]; ok {
		return nil, err
	}
	if ps, ok := f.products[id]; ok {
		return ps, nil
	}
	return nil, fmt.Errorf("no stub for %s", id)
}

func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scrape.Location = "Gurgaon"
	cfg.Scrape.Concurrency = 2
	cfg.Scrape.MinDelay = "1ms"
	cfg.Scrape.MaxDelay = "2ms"
	return cfg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPipelineRun(t *testing.T) {
	st := newTestStore(t)

	driver := &stubDriver{
		links: map[string]string{
			"/cn/munchies/bhujia-mixtures/cid/1237/1178": "Bhujia & Mixtures",
		},
		listings: map[string][]string{
			"https://blinkit.com/cn/munchies/bhujia-mixtures/cid/1237/1178": {"100", "200"},
		},
	}
	fetcher := &stubFetcher{
		products: map[string][]*types.Product{
			"100": {{ProductID: "100", Name: "Aloo Bhujia", Price: 95, Inventory: 5}},
		},
		errors: map[string]error{
			"200": &FetchError{ProductID: "200", StatusCode: 403, Msg: "Forbidden"},
		},
	}

	p := NewPipeline(fastConfig(), st, driver, fetcher)
	result, err := p.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Categories != 1 || result.Products != 1 || result.Failures != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}

	stored, err := st.GetProduct("100")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if stored.RunID != result.RunID {
		t.Errorf("Stored product should carry the run ID, got %q", stored.RunID)
	}

	failures, err := st.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 1 || failures[0].ProductID != "200" || failures[0].StatusCode != 403 {
		t.Errorf("Unexpected failures: %+v", failures)
	}

	run, err := st.LatestRun()
	if err != nil || run == nil {
		t.Fatalf("LatestRun failed: %v %v", run, err)
	}
	if run.Status != "completed" {
		t.Errorf("Run status should be completed, got %q", run.Status)
	}
}

func TestPipelineRetryFailures(t *testing.T) {
	st := newTestStore(t)

	if err := RetrySeed(st, []string{"100", "200"}); err != nil {
		t.Fatalf("RetrySeed failed: %v", err)
	}

	fetcher := &stubFetcher{
		products: map[string][]*types.Product{
			"100": {{ProductID: "100", Name: "Aloo Bhujia", Price: 95, Inventory: 5}},
		},
		errors: map[string]error{
			"200": &FetchError{ProductID: "200", StatusCode: 403, Msg: "Forbidden"},
		},
	}

	p := NewPipeline(fastConfig(), st, &stubDriver{}, fetcher)
	result, err := p.RetryFailures(context.Background())
	if err != nil {
		t.Fatalf("RetryFailures failed: %v", err)
	}
	if result.Attempted != 2 || result.Recovered != 1 || result.Failures != 1 {
		t.Errorf("Unexpected retry result: %+v", result)
	}

	// The recovered product's failure row should be gone
	failures, err := st.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 1 || failures[0].ProductID != "200" {
		t.Errorf("Expected only 200 to remain failed: %+v", failures)
	}
	if failures[0].Attempts != 2 {
		t.Errorf("Attempts should bump on repeat failure, got %d", failures[0].Attempts)
	}
}

func TestPipelineExplicitIDs(t *testing.T) {
	st := newTestStore(t)

	fetcher := &stubFetcher{
		products: map[string][]*types.Product{
			"42": {{ProductID: "42", Name: "Plain Curd", Price: 35, Inventory: 3}},
		},
	}
	p := NewPipeline(fastConfig(), st, &stubDriver{}, fetcher)

	result, err := p.Run(context.Background(), RunOptions{ProductIDs: []string{"42"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Products != 1 || result.Categories != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
}
