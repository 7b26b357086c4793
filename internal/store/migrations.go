package store

import (
	"database/sql"
	"fmt"

	"cravehy/internal/logging"
)

// migration adds a column to an existing table. CREATE TABLE IF NOT EXISTS
// does not add columns to databases created before the column existed, so
// additions land here as well as in the base schema.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply.
var pendingMigrations = []migration{
	// Retry bookkeeping on fetch failures
	{"fetch_failures", "attempts", "INTEGER DEFAULT 1"},
	// Embedding model recorded for re-indexing after model changes
	{"product_embeddings", "model", "TEXT"},
	// Run status for interrupted runs
	{"scrape_runs", "status", "TEXT DEFAULT 'running'"},
}

// runMigrations applies schema migrations for existing databases.
func runMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		applied++
		logging.Store("Applied migration: %s.%s", m.Table, m.Column)
	}
	if applied > 0 {
		logging.Store("Schema migrations applied: %d", applied)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
