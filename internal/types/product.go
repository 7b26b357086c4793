// Package types holds the shared catalog data model used across the
// scraper, store, rules, and recommendation layers.
package types

import "time"

// Category is a product listing page discovered on the categories index.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Nutrient is a single normalized nutrition entry for a product.
// Value is per serving as printed on the label; Raw preserves the
// original label text for the key.
type Nutrient struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Raw   string  `json:"raw"`
}

// Product is one purchasable variant scraped from a product detail page.
type Product struct {
	ProductID  string   `json:"product_id"`
	GroupID    string   `json:"group_id,omitempty"`
	Name       string   `json:"name"`
	Brand      string   `json:"brand,omitempty"`
	CategoryL0 string   `json:"category_l0,omitempty"`
	CategoryL1 string   `json:"category_l1,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Price      float64  `json:"price"`
	MRP        float64  `json:"original_price,omitempty"`
	Inventory  int      `json:"inventory"`
	ProductURL string   `json:"product_url,omitempty"`
	ImageURLs  []string `json:"image_urls,omitempty"`

	Ingredients  string `json:"ingredients,omitempty"`
	KeyFeatures  string `json:"key_features,omitempty"`
	NutritionRaw string `json:"nutrition_raw,omitempty"`
	ServingSize  string `json:"serving_size,omitempty"`

	Nutrients []Nutrient `json:"nutrition_info,omitempty"`
	Tags      []string   `json:"tags,omitempty"`

	ScrapedAt time.Time `json:"scraped_at,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
}

// Nutrient returns the normalized value for a key and whether it is present.
func (p *Product) Nutrient(key string) (float64, bool) {
	for _, n := range p.Nutrients {
		if n.Key == key {
			return n.Value, true
		}
	}
	return 0, false
}

// HasTag reports whether the product carries an allergen or diet tag.
func (p *Product) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// InStock reports whether the variant had inventory at scrape time.
func (p *Product) InStock() bool {
	return p.Inventory > 0
}
