package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cravehy/internal/logging"
	"cravehy/internal/nutrition"
	"cravehy/internal/types"
)

const (
	pdpPathPrefix = "/prn/product/prid/"
	stateMarker   = "window.grofers.PRELOADED_STATE = "

	// Minimum time between detail fetches across all workers
	minRequestInterval = 600 * time.Millisecond

	maxRetries = 3
)

// Attribute titles on the detail page carrying the data we extract.
const (
	attrNutrition   = "Nutrition Information"
	attrIngredients = "Ingredients"
	attrKeyFeatures = "Key Features"
)

// FetchError is a product detail fetch that failed with an HTTP status.
type FetchError struct {
	ProductID  string
	URL        string
	StatusCode int
	Msg        string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("PDP fetch failed (ID: %s): status %d: %s", e.ProductID, e.StatusCode, e.Msg)
}

// Fetcher retrieves product detail pages over plain HTTP. The detail
// endpoint serves full server-rendered state, so no browser is needed.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string

	mu          sync.Mutex
	lastRequest time.Time
}

// NewFetcher creates a detail page fetcher for the given retailer base URL.
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
			// Redirects off the /prid/ path mean the product is gone or
			// the request was flagged; surface the 3xx instead
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// waitForRateLimit enforces the minimum interval between requests.
func (f *Fetcher) waitForRateLimit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	elapsed := time.Since(f.lastRequest)
	if elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	f.lastRequest = time.Now()
}

// FetchProduct retrieves and parses one product detail page. A page can
// describe several purchasable variants; all are returned. Responses
// with 429 or 5xx status are retried with exponential backoff.
func (f *Fetcher) FetchProduct(ctx context.Context, productID string) ([]*types.Product, error) {
	pdpURL := f.baseURL + pdpPathPrefix + productID

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			logging.ScraperWarn("Retrying %s after %v (attempt %d/%d)", productID, backoff, i+1, maxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		products, err := f.fetchOnce(ctx, productID, pdpURL)
		if err == nil {
			return products, nil
		}
		lastErr = err

		var fe *FetchError
		if errors.As(err, &fe) && (fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500) {
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, productID, pdpURL string) ([]*types.Product, error) {
	f.waitForRateLimit()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdpURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	// The endpoint 403s plain clients; present as a browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", f.baseURL+"/")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pdpURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		return nil, &FetchError{
			ProductID:  productID,
			URL:        pdpURL,
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("redirected to %s", loc),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			ProductID:  productID,
			URL:        pdpURL,
			StatusCode: resp.StatusCode,
			Msg:        http.StatusText(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body for %s: %w", productID, err)
	}

	products, err := ParseProductPage(string(body), pdpURL)
	if err != nil {
		return nil, fmt.Errorf("parse PDP for %s: %w", productID, err)
	}
	return products, nil
}

// preloaded state shape, reduced to the fields we keep

type preloadedState struct {
	Data struct {
		UI struct {
			Pdp struct {
				RawData struct {
					Data pdpData `json:"data"`
				} `json:"rawData"`
			} `json:"pdp"`
		} `json:"ui"`
	} `json:"data"`
}

type pdpData struct {
	VariantsInfo []variantInfo `json:"variants_info"`
	Product      *variantInfo  `json:"product"`
}

type variantInfo struct {
	ID             json.Number `json:"id"`
	GroupID        json.Number `json:"group_id"`
	Name           string      `json:"name"`
	Brand          string      `json:"brand"`
	Level0Category []struct {
		Name string `json:"name"`
	} `json:"level0_category"`
	Level1Category []struct {
		Name string `json:"name"`
	} `json:"level1_category"`
	Unit      string  `json:"unit"`
	Price     float64 `json:"price"`
	MRP       float64 `json:"mrp"`
	Inventory int     `json:"inventory"`
	Assets    []struct {
		URL string `json:"url"`
	} `json:"assets"`
	AttributeCollection []struct {
		Title string `json:"title"`
		Value string `json:"value"`
	} `json:"attribute_collection"`
}

// ParseProductPage extracts the server-rendered state blob from a detail
// page and maps its variants into products.
func ParseProductPage(pageHTML, pdpURL string) ([]*types.Product, error) {
	raw, err := extractPreloadedState(pageHTML)
	if err != nil {
		return nil, err
	}

	var state preloadedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode preloaded state: %w", err)
	}

	data := state.Data.UI.Pdp.RawData.Data
	variants := data.VariantsInfo
	if len(variants) == 0 && data.Product != nil {
		variants = []variantInfo{*data.Product}
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("no product data in preloaded state")
	}

	products := make([]*types.Product, 0, len(variants))
	now := time.Now()
	for _, v := range variants {
		p := &types.Product{
			ProductID: v.ID.String(),
			GroupID:   v.GroupID.String(),
			Name:      v.Name,
			Brand:     v.Brand,
			Unit:      v.Unit,
			Price:     v.Price,
			MRP:       v.MRP,
			Inventory: v.Inventory,
			ScrapedAt: now,
		}
		if p.ProductID == "" {
			continue
		}
		p.ProductURL = rewriteProductURL(pdpURL, p.ProductID)
		if len(v.Level0Category) > 0 {
			p.CategoryL0 = v.Level0Category[0].Name
		}
		if len(v.Level1Category) > 0 {
			p.CategoryL1 = v.Level1Category[0].Name
		}
		for _, a := range v.Assets {
			if a.URL != "" {
				p.ImageURLs = append(p.ImageURLs, a.URL)
			}
		}
		for _, attr := range v.AttributeCollection {
			switch attr.Title {
			case attrNutrition:
				p.NutritionRaw = attr.Value
			case attrIngredients:
				p.Ingredients = attr.Value
			case attrKeyFeatures:
				p.KeyFeatures = attr.Value
			}
		}

		enrichNutrition(p)
		products = append(products, p)
	}

	if len(products) == 0 {
		return nil, fmt.Errorf("no variants with product IDs")
	}
	return products, nil
}

// enrichNutrition parses the raw label text into normalized nutrients
// and derives allergen/diet tags.
func enrichNutrition(p *types.Product) {
	if p.NutritionRaw != "" {
		label := nutrition.ParseLabel(p.NutritionRaw)
		p.ServingSize = label.ServingSize
		p.Nutrients = nutrition.Normalize(label)
		logging.NutritionDebug("Parsed %d nutrients for %s", len(p.Nutrients), p.ProductID)
	}
	p.Tags = nutrition.DeriveTags(p.Ingredients, p.Name)
}

// rewriteProductURL points a PDP URL at a specific variant's ID.
func rewriteProductURL(pdpURL, productID string) string {
	idx := strings.Index(pdpURL, pdpPathPrefix)
	if idx < 0 {
		return pdpURL
	}
	return pdpURL[:idx+len(pdpPathPrefix)] + productID
}

// extractPreloadedState finds the server-rendered JSON blob in a script
// tag and returns the balanced object literal.
func extractPreloadedState(pageHTML string) ([]byte, error) {
	idx := strings.Index(pageHTML, stateMarker)
	if idx < 0 {
		return nil, fmt.Errorf("preloaded state marker not found")
	}
	rest := pageHTML[idx+len(stateMarker):]

	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, fmt.Errorf("preloaded state object not found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(rest); i++ {
		c := rest[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(rest[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("preloaded state object not terminated")
}
