package store

import (
	"database/sql"
	"fmt"
	"time"

	"cravehy/internal/logging"
)

// RunSummary describes one scrape run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Categories int
	Products   int
	Failures   int
	Status     string
}

// FetchFailure records a product detail fetch that did not yield data.
type FetchFailure struct {
	ProductID  string
	RunID      string
	URL        string
	StatusCode int
	Error      string
	FailedAt   time.Time
	Attempts   int
}

// StartRun records the beginning of a scrape run.
func (s *Store) StartRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO scrape_runs (run_id, status) VALUES (?, 'running')", runID,
	)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	logging.Scraper("Run %s started", runID)
	return nil
}

// FinishRun records run totals and final status.
func (s *Store) FinishRun(runID string, categories, products, failures int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE scrape_runs
		SET finished_at = CURRENT_TIMESTAMP, categories = ?, products = ?, failures = ?, status = ?
		WHERE run_id = ?
	`, categories, products, failures, status, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	logging.Scraper("Run %s finished: %d categories, %d products, %d failures (%s)",
		runID, categories, products, failures, status)
	return nil
}

// LatestRun returns the most recently started run, or nil if none exist.
func (s *Store) LatestRun() (*RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT run_id, started_at, finished_at, categories, products, failures, status
		FROM scrape_runs ORDER BY started_at DESC LIMIT 1
	`)

	var r RunSummary
	var finished sql.NullTime
	var status sql.NullString
	err := row.Scan(&r.RunID, &r.StartedAt, &finished, &r.Categories, &r.Products, &r.Failures, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	r.Status = status.String
	return &r, nil
}

// RecordFailure upserts a fetch failure, bumping the attempt counter on
// repeated failures for the same product.
func (s *Store) RecordFailure(f FetchFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO fetch_failures (product_id, run_id, url, status_code, error, attempts)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(product_id) DO UPDATE SET
			run_id = excluded.run_id,
			url = excluded.url,
			status_code = excluded.status_code,
			error = excluded.error,
			failed_at = CURRENT_TIMESTAMP,
			attempts = fetch_failures.attempts + 1
	`, f.ProductID, f.RunID, f.URL, f.StatusCode, f.Error)
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", f.ProductID, err)
	}
	return nil
}

// ListFailures returns all recorded fetch failures, oldest first.
func (s *Store) ListFailures() ([]FetchFailure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT product_id, run_id, url, status_code, error, failed_at, attempts
		FROM fetch_failures ORDER BY failed_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FetchFailure
	for rows.Next() {
		var f FetchFailure
		var runID, url, errMsg sql.NullString
		var status sql.NullInt64
		if err := rows.Scan(&f.ProductID, &runID, &url, &status, &errMsg, &f.FailedAt, &f.Attempts); err != nil {
			return nil, err
		}
		f.RunID = runID.String
		f.URL = url.String
		f.StatusCode = int(status.Int64)
		f.Error = errMsg.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFailure removes a failure record once the product has been
// fetched successfully.
func (s *Store) ClearFailure(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM fetch_failures WHERE product_id = ?", productID)
	return err
}
