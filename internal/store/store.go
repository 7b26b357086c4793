// Package store persists the scraped catalog, health profiles, carts, and
// product embeddings in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"cravehy/internal/logging"
)

// Store wraps a single SQLite database holding the product catalog and
// everything derived from it.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// NewStore initializes the SQLite database at the given path.
// Pass ":memory:" for an ephemeral store in tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec not available; similarity search falls back to in-process cosine")
	}

	logging.Store("Store initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	categoriesTable := `
	CREATE TABLE IF NOT EXISTS categories (
		url TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		discovered_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	productsTable := `
	CREATE TABLE IF NOT EXISTS products (
		product_id TEXT PRIMARY KEY,
		group_id TEXT,
		name TEXT NOT NULL,
		brand TEXT,
		category_l0 TEXT,
		category_l1 TEXT,
		unit TEXT,
		price REAL NOT NULL DEFAULT 0,
		mrp REAL,
		inventory INTEGER NOT NULL DEFAULT 0,
		product_url TEXT,
		image_urls TEXT,
		ingredients TEXT,
		key_features TEXT,
		nutrition_raw TEXT,
		serving_size TEXT,
		run_id TEXT,
		scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_products_group ON products(group_id);
	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_l0, category_l1);
	CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand);
	`

	nutrientsTable := `
	CREATE TABLE IF NOT EXISTS product_nutrients (
		product_id TEXT NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		raw TEXT,
		PRIMARY KEY(product_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_nutrients_key ON product_nutrients(key);
	`

	tagsTable := `
	CREATE TABLE IF NOT EXISTS product_tags (
		product_id TEXT NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY(product_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_tags_tag ON product_tags(tag);
	`

	runsTable := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		run_id TEXT PRIMARY KEY,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME,
		categories INTEGER DEFAULT 0,
		products INTEGER DEFAULT 0,
		failures INTEGER DEFAULT 0,
		status TEXT DEFAULT 'running'
	);
	`

	failuresTable := `
	CREATE TABLE IF NOT EXISTS fetch_failures (
		product_id TEXT PRIMARY KEY,
		run_id TEXT,
		url TEXT,
		status_code INTEGER,
		error TEXT,
		failed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		attempts INTEGER DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_failures_run ON fetch_failures(run_id);
	`

	profilesTable := `
	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		profile_json TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	cartsTable := `
	CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY,
		profile_name TEXT NOT NULL,
		budget REAL,
		explanation TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS cart_items (
		cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		name TEXT,
		quantity INTEGER NOT NULL DEFAULT 1,
		unit_price REAL NOT NULL DEFAULT 0,
		reason TEXT,
		PRIMARY KEY(cart_id, product_id)
	);
	`

	embeddingsTable := `
	CREATE TABLE IF NOT EXISTS product_embeddings (
		product_id TEXT PRIMARY KEY REFERENCES products(product_id) ON DELETE CASCADE,
		embedding BLOB NOT NULL,
		dimensions INTEGER NOT NULL,
		model TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, table := range []string{
		categoriesTable,
		productsTable,
		nutrientsTable,
		tagsTable,
		runsTable,
		failuresTable,
		profilesTable,
		cartsTable,
		embeddingsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// GetDB returns the underlying SQL database connection.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available.
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// GetStats returns row counts per table.
func (s *Store) GetStats() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetStats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"categories", "products", "product_nutrients", "product_tags",
		"scrape_runs", "fetch_failures", "profiles", "carts", "product_embeddings",
	}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}

	return stats, nil
}
