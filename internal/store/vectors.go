package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"cravehy/internal/logging"
)

// ScoredProduct is a similarity search hit.
type ScoredProduct struct {
	ProductID string
	Score     float64 // cosine similarity, higher is closer
}

// encodeVector serializes a vector as little-endian float32 bytes, the
// blob format sqlite-vec expects.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// UpsertEmbedding stores a product embedding. When sqlite-vec is
// available the vector is mirrored into the ANN index.
func (s *Store) UpsertEmbedding(productID string, vector []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob := encodeVector(vector)
	_, err := s.db.Exec(`
		INSERT INTO product_embeddings (product_id, embedding, dimensions, model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`, productID, blob, len(vector), model)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s: %w", productID, err)
	}

	if s.vectorExt {
		if err := s.upsertVecIndex(productID, blob, len(vector)); err != nil {
			// ANN index is an accelerator; the blob table remains authoritative
			logging.StoreDebug("vec index upsert failed for %s: %v", productID, err)
		}
	}
	return nil
}

// upsertVecIndex mirrors an embedding into the vec0 virtual table.
// Caller must hold the write lock.
func (s *Store) upsertVecIndex(productID string, blob []byte, dims int) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS vec_map (rowid INTEGER PRIMARY KEY AUTOINCREMENT, product_id TEXT UNIQUE)",
		fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_products USING vec0(embedding float[%d])", dims),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO vec_map (product_id) VALUES (?)", productID,
	); err != nil {
		return err
	}
	var rowid int64
	if err := s.db.QueryRow(
		"SELECT rowid FROM vec_map WHERE product_id = ?", productID,
	).Scan(&rowid); err != nil {
		return err
	}

	if _, err := s.db.Exec("DELETE FROM vec_products WHERE rowid = ?", rowid); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO vec_products (rowid, embedding) VALUES (?, ?)", rowid, blob,
	)
	return err
}

// GetEmbedding loads a stored product embedding, or nil if absent.
func (s *Store) GetEmbedding(productID string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRow(
		"SELECT embedding FROM product_embeddings WHERE product_id = ?", productID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeVector(blob), nil
}

// EmbeddedProductIDs returns the IDs of all products with a stored embedding.
func (s *Store) EmbeddedProductIDs() (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT product_id FROM product_embeddings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SimilarProducts returns the products closest to the query vector.
// Uses the sqlite-vec ANN index when available, otherwise a full scan
// with in-process cosine similarity.
func (s *Store) SimilarProducts(query []float32, limit int) ([]ScoredProduct, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SimilarProducts")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}

	if s.vectorExt {
		hits, err := s.similarViaVec(query, limit)
		if err == nil {
			return hits, nil
		}
		logging.StoreDebug("vec search failed, falling back to scan: %v", err)
	}
	return s.similarViaScan(query, limit)
}

func (s *Store) similarViaVec(query []float32, limit int) ([]ScoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT m.product_id, v.distance
		FROM vec_products v
		JOIN vec_map m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ?
		ORDER BY v.distance
		LIMIT ?
	`, encodeVector(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []ScoredProduct
	for rows.Next() {
		var h ScoredProduct
		var distance float64
		if err := rows.Scan(&h.ProductID, &distance); err != nil {
			return nil, err
		}
		// vec0 returns L2 distance; invert into a descending score
		h.Score = 1.0 / (1.0 + distance)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) similarViaScan(query []float32, limit int) ([]ScoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT product_id, embedding FROM product_embeddings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []ScoredProduct
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		score := CosineSimilarity(query, decodeVector(blob))
		hits = append(hits, ScoredProduct{ProductID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
