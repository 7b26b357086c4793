package store

import (
	"database/sql"
	"fmt"
	"time"

	"cravehy/internal/types"
)

// SaveProfile persists a named health profile as JSON. The profile
// package owns the schema of the JSON document.
func (s *Store) SaveProfile(name string, profileJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO profiles (name, profile_json) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			profile_json = excluded.profile_json,
			updated_at = CURRENT_TIMESTAMP
	`, name, string(profileJSON))
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", name, err)
	}
	return nil
}

// GetProfile loads a named profile's JSON document.
func (s *Store) GetProfile(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRow("SELECT profile_json FROM profiles WHERE name = ?", name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// ListProfileNames returns all saved profile names.
func (s *Store) ListProfileNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name FROM profiles ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveCart persists a recommended cart with its items.
func (s *Store) SaveCart(cart *types.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := cart.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO carts (id, profile_name, budget, explanation, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, cart.ID, cart.ProfileName, cart.Budget, cart.Explanation, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save cart %s: %w", cart.ID, err)
	}

	for _, it := range cart.Items {
		_, err := tx.Exec(`
			INSERT INTO cart_items (cart_id, product_id, name, quantity, unit_price, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`, cart.ID, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.Reason)
		if err != nil {
			return fmt.Errorf("failed to save cart item %s: %w", it.ProductID, err)
		}
	}

	return tx.Commit()
}

// GetCart loads a saved cart with its items.
func (s *Store) GetCart(id string) (*types.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cart types.Cart
	var budget sql.NullFloat64
	var explanation sql.NullString
	err := s.db.QueryRow(`
		SELECT id, profile_name, budget, explanation, created_at
		FROM carts WHERE id = ?
	`, id).Scan(&cart.ID, &cart.ProfileName, &budget, &explanation, &cart.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cart %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	cart.Budget = budget.Float64
	cart.Explanation = explanation.String

	rows, err := s.db.Query(`
		SELECT product_id, name, quantity, unit_price, reason
		FROM cart_items WHERE cart_id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it types.CartItem
		var name, reason sql.NullString
		if err := rows.Scan(&it.ProductID, &name, &it.Quantity, &it.UnitPrice, &reason); err != nil {
			return nil, err
		}
		it.Name = name.String
		it.Reason = reason.String
		cart.Items = append(cart.Items, it)
	}
	return &cart, rows.Err()
}

// ListCarts returns saved carts for a profile, newest first. An empty
// profile name returns all carts.
func (s *Store) ListCarts(profileName string) ([]*types.Cart, error) {
	s.mu.RLock()

	query := "SELECT id FROM carts"
	var args []interface{}
	if profileName != "" {
		query += " WHERE profile_name = ?"
		args = append(args, profileName)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	s.mu.RUnlock()

	var carts []*types.Cart
	for _, id := range ids {
		cart, err := s.GetCart(id)
		if err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, nil
}
