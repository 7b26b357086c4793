package embedding

import (
	"context"
	"fmt"

	"cravehy/internal/logging"
	"cravehy/internal/store"
	"cravehy/internal/types"
)

const defaultBatchSize = 32

// Indexer embeds catalog products and runs semantic searches against
// the stored vectors.
type Indexer struct {
	engine Engine
	store  *store.Store
	batch  int
}

// NewIndexer creates an indexer over the given engine and store.
func NewIndexer(engine Engine, st *store.Store) *Indexer {
	return &Indexer{engine: engine, store: st, batch: defaultBatchSize}
}

// IndexResult summarizes an indexing pass.
type IndexResult struct {
	Indexed int
	Skipped int
}

// IndexProducts embeds every candidate product that has no stored
// vector yet. Set reindex to re-embed everything, e.g. after switching
// models.
func (ix *Indexer) IndexProducts(ctx context.Context, reindex bool) (*IndexResult, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "IndexProducts")
	defer timer.StopWithInfo()

	products, err := ix.store.Candidates()
	if err != nil {
		return nil, err
	}

	var done map[string]bool
	if !reindex {
		done, err = ix.store.EmbeddedProductIDs()
		if err != nil {
			return nil, err
		}
	}

	result := &IndexResult{}
	var pending []*types.Product
	for _, p := range products {
		if done[p.ProductID] {
			result.Skipped++
			continue
		}
		pending = append(pending, p)
	}

	for start := 0; start < len(pending); start += ix.batch {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := start + ix.batch
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		texts := make([]string, len(chunk))
		for i, p := range chunk {
			texts[i] = ProductText(p)
		}

		vectors, err := ix.engine.EmbedBatch(ctx, texts)
		if err != nil {
			return result, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(chunk) {
			return result, fmt.Errorf("embed batch at %d: got %d vectors for %d texts", start, len(vectors), len(chunk))
		}

		for i, vec := range vectors {
			if err := ix.store.UpsertEmbedding(chunk[i].ProductID, vec, ix.engine.Name()); err != nil {
				return result, err
			}
			result.Indexed++
		}
		logging.EmbeddingDebug("indexed batch %d..%d of %d", start, end, len(pending))
	}

	logging.Embedding("Indexed %d products (%d already embedded)", result.Indexed, result.Skipped)
	return result, nil
}

// SearchResult pairs a product with its similarity score.
type SearchResult struct {
	Product *types.Product
	Score   float64
}

// Search embeds the query and returns the closest products.
func (ix *Indexer) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "Search")
	defer timer.Stop()

	vec, err := ix.engine.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := ix.store.SimilarProducts(vec, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(scored))
	for _, s := range scored {
		p, err := ix.store.GetProduct(s.ProductID)
		if err != nil {
			logging.EmbeddingDebug("skip %s: %v", s.ProductID, err)
			continue
		}
		results = append(results, SearchResult{Product: p, Score: s.Score})
	}
	return results, nil
}
