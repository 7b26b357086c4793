package scraper

import (
	"context"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"cravehy/internal/logging"
	"cravehy/internal/store"
)

// RetryResult summarizes a retry pass over recorded failures.
type RetryResult struct {
	RunID     string
	Attempted int
	Recovered int
	Failures  int
}

// RetryFailures refetches every product in fetch_failures. Successes are
// upserted and their failure rows cleared; persistent failures have their
// attempt counters bumped. The failure table is the source of truth; log
// extraction exists only for recovering older runs.
func (p *Pipeline) RetryFailures(ctx context.Context) (*RetryResult, error) {
	failures, err := p.store.ListFailures()
	if err != nil {
		return nil, err
	}

	result := &RetryResult{RunID: uuid.NewString()}
	if len(failures) == 0 {
		logging.Scraper("No recorded failures to retry")
		return result, nil
	}

	if err := p.store.StartRun(result.RunID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(failures))
	for _, f := range failures {
		ids = append(ids, f.ProductID)
	}
	result.Attempted = len(ids)
	logging.Scraper("Retrying %d failed products", len(ids))

	products, failed := p.fetchAll(ctx, result.RunID, ids)
	result.Recovered = result.Attempted - failed
	result.Failures = failed

	status := "completed"
	if err := ctx.Err(); err != nil {
		status = "failed"
	}
	if ferr := p.store.FinishRun(result.RunID, 0, products, failed, status); ferr != nil {
		logging.ScraperError("finish retry run %s: %v", result.RunID, ferr)
	}
	return result, ctx.Err()
}

// RetrySeed inserts failure rows for product IDs recovered from log text,
// so a later RetryFailures pass picks them up.
func RetrySeed(st *store.Store, ids []string) error {
	for _, id := range ids {
		f := store.FetchFailure{ProductID: id, Error: "seeded from logs"}
		if err := st.RecordFailure(f); err != nil {
			return err
		}
	}
	return nil
}

var failedIDPattern = regexp.MustCompile(`PDP fetch failed \(ID: (\d+)\): status (\d+)`)

// ExtractFailedIDs scans scraper log text for detail fetches that were
// blocked with 403 and returns their product IDs, sorted and deduped.
// Other statuses are skipped: 404s will never succeed and 429/5xx were
// already retried inline.
func ExtractFailedIDs(logText string) []string {
	matches := failedIDPattern.FindAllStringSubmatch(logText, -1)
	seen := make(map[string]bool)
	var ids []string
	for _, m := range matches {
		if m[2] != "403" {
			continue
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	sort.Strings(ids)
	return ids
}
