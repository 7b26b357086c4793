package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cravehy/internal/logging"
	"cravehy/internal/types"
)

// UpsertCategories inserts or refreshes discovered listing categories.
func (s *Store) UpsertCategories(cats []types.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO categories (url, name) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET name = excluded.name
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cats {
		if _, err := stmt.Exec(c.URL, c.Name); err != nil {
			return fmt.Errorf("failed to upsert category %s: %w", c.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Catalog("Upserted %d categories", len(cats))
	return nil
}

// ListCategories returns all known categories ordered by name.
func (s *Store) ListCategories() ([]types.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT url, name FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []types.Category
	for rows.Next() {
		var c types.Category
		if err := rows.Scan(&c.URL, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// UpsertProduct writes a product and its nutrients and tags in one
// transaction. Re-scrapes replace the nutrient and tag rows wholesale.
func (s *Store) UpsertProduct(p *types.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	imageJSON, err := json.Marshal(p.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}

	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO products (
			product_id, group_id, name, brand, category_l0, category_l1,
			unit, price, mrp, inventory, product_url, image_urls,
			ingredients, key_features, nutrition_raw, serving_size,
			run_id, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			group_id = excluded.group_id,
			name = excluded.name,
			brand = excluded.brand,
			category_l0 = excluded.category_l0,
			category_l1 = excluded.category_l1,
			unit = excluded.unit,
			price = excluded.price,
			mrp = excluded.mrp,
			inventory = excluded.inventory,
			product_url = excluded.product_url,
			image_urls = excluded.image_urls,
			ingredients = excluded.ingredients,
			key_features = excluded.key_features,
			nutrition_raw = excluded.nutrition_raw,
			serving_size = excluded.serving_size,
			run_id = excluded.run_id,
			scraped_at = excluded.scraped_at
	`, p.ProductID, p.GroupID, p.Name, p.Brand, p.CategoryL0, p.CategoryL1,
		p.Unit, p.Price, p.MRP, p.Inventory, p.ProductURL, string(imageJSON),
		p.Ingredients, p.KeyFeatures, p.NutritionRaw, p.ServingSize,
		p.RunID, scrapedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ProductID, err)
	}

	if _, err := tx.Exec("DELETE FROM product_nutrients WHERE product_id = ?", p.ProductID); err != nil {
		return err
	}
	for _, n := range p.Nutrients {
		if _, err := tx.Exec(
			"INSERT INTO product_nutrients (product_id, key, value, unit, raw) VALUES (?, ?, ?, ?, ?)",
			p.ProductID, n.Key, n.Value, n.Unit, n.Raw,
		); err != nil {
			return fmt.Errorf("failed to insert nutrient %s: %w", n.Key, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM product_tags WHERE product_id = ?", p.ProductID); err != nil {
		return err
	}
	for _, tag := range p.Tags {
		if _, err := tx.Exec(
			"INSERT INTO product_tags (product_id, tag) VALUES (?, ?)",
			p.ProductID, tag,
		); err != nil {
			return fmt.Errorf("failed to insert tag %s: %w", tag, err)
		}
	}

	return tx.Commit()
}

// GetProduct loads a single product with nutrients and tags.
func (s *Store) GetProduct(productID string) (*types.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT product_id, group_id, name, brand, category_l0, category_l1,
			unit, price, mrp, inventory, product_url, image_urls,
			ingredients, key_features, nutrition_raw, serving_size,
			run_id, scraped_at
		FROM products WHERE product_id = ?
	`, productID)

	p, err := scanProduct(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product %s not found", productID)
		}
		return nil, err
	}

	if err := s.loadNutrientsAndTags(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProductFilter narrows ListProducts results. Zero values are unconstrained.
type ProductFilter struct {
	Category    string // matches either category level
	Brand       string
	NameLike    string
	InStockOnly bool
	MaxPrice    float64
	Limit       int
}

// ListProducts returns catalog products matching the filter, with
// nutrients and tags loaded.
func (s *Store) ListProducts(f ProductFilter) ([]*types.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []interface{}

	if f.Category != "" {
		conds = append(conds, "(category_l0 = ? OR category_l1 = ?)")
		args = append(args, f.Category, f.Category)
	}
	if f.Brand != "" {
		conds = append(conds, "brand = ?")
		args = append(args, f.Brand)
	}
	if f.NameLike != "" {
		conds = append(conds, "name LIKE ?")
		args = append(args, "%"+f.NameLike+"%")
	}
	if f.InStockOnly {
		conds = append(conds, "inventory > 0")
	}
	if f.MaxPrice > 0 {
		conds = append(conds, "price <= ?")
		args = append(args, f.MaxPrice)
	}

	query := `
		SELECT product_id, group_id, name, brand, category_l0, category_l1,
			unit, price, mrp, inventory, product_url, image_urls,
			ingredients, key_features, nutrition_raw, serving_size,
			run_id, scraped_at
		FROM products`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range products {
		if err := s.loadNutrientsAndTags(p); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// Candidates returns in-stock products carrying nutrition data, the pool
// the recommender screens and ranks.
func (s *Store) Candidates() ([]*types.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT p.product_id, p.group_id, p.name, p.brand, p.category_l0, p.category_l1,
			p.unit, p.price, p.mrp, p.inventory, p.product_url, p.image_urls,
			p.ingredients, p.key_features, p.nutrition_raw, p.serving_size,
			p.run_id, p.scraped_at
		FROM products p
		WHERE p.inventory > 0
		  AND EXISTS (SELECT 1 FROM product_nutrients n WHERE n.product_id = p.product_id)
		ORDER BY p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range products {
		if err := s.loadNutrientsAndTags(p); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// ExportProducts writes the full catalog as a JSON array.
func (s *Store) ExportProducts() ([]byte, error) {
	products, err := s.ListProducts(ProductFilter{})
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(products, "", "  ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*types.Product, error) {
	var p types.Product
	var groupID, brand, catL0, catL1, unit, productURL, imageJSON sql.NullString
	var ingredients, keyFeatures, nutritionRaw, servingSize, runID sql.NullString
	var mrp sql.NullFloat64
	var scrapedAt sql.NullTime

	err := row.Scan(
		&p.ProductID, &groupID, &p.Name, &brand, &catL0, &catL1,
		&unit, &p.Price, &mrp, &p.Inventory, &productURL, &imageJSON,
		&ingredients, &keyFeatures, &nutritionRaw, &servingSize,
		&runID, &scrapedAt,
	)
	if err != nil {
		return nil, err
	}

	p.GroupID = groupID.String
	p.Brand = brand.String
	p.CategoryL0 = catL0.String
	p.CategoryL1 = catL1.String
	p.Unit = unit.String
	p.MRP = mrp.Float64
	p.ProductURL = productURL.String
	p.Ingredients = ingredients.String
	p.KeyFeatures = keyFeatures.String
	p.NutritionRaw = nutritionRaw.String
	p.ServingSize = servingSize.String
	p.RunID = runID.String
	if scrapedAt.Valid {
		p.ScrapedAt = scrapedAt.Time
	}
	if imageJSON.String != "" {
		if err := json.Unmarshal([]byte(imageJSON.String), &p.ImageURLs); err != nil {
			logging.StoreDebug("Failed to unmarshal image urls for %s: %v", p.ProductID, err)
		}
	}
	return &p, nil
}

// loadNutrientsAndTags populates the child rows for a product.
// Caller must hold at least a read lock.
func (s *Store) loadNutrientsAndTags(p *types.Product) error {
	rows, err := s.db.Query(
		"SELECT key, value, unit, raw FROM product_nutrients WHERE product_id = ? ORDER BY key",
		p.ProductID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	p.Nutrients = nil
	for rows.Next() {
		var n types.Nutrient
		var raw sql.NullString
		if err := rows.Scan(&n.Key, &n.Value, &n.Unit, &raw); err != nil {
			return err
		}
		n.Raw = raw.String
		p.Nutrients = append(p.Nutrients, n)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tagRows, err := s.db.Query(
		"SELECT tag FROM product_tags WHERE product_id = ? ORDER BY tag",
		p.ProductID,
	)
	if err != nil {
		return err
	}
	defer tagRows.Close()

	p.Tags = nil
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return err
		}
		p.Tags = append(p.Tags, tag)
	}
	return tagRows.Err()
}
