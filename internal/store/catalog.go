package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UpsertCategory returns the id of the named category, creating it if
// absent.
func (s *Store) UpsertCategory(name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("empty category name")
	}

	res, err := s.db.Exec(`
		INSERT INTO categories (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, name)
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("category id: %w", err)
		}
		return id, nil
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM categories WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("select category: %w", err)
	}
	return id, nil
}

// UpsertProduct inserts or updates a product keyed by SKU and fills in
// the row id.
func (s *Store) UpsertProduct(p *Product) error {
	if p.SKU == "" {
		return fmt.Errorf("empty sku")
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO products (sku, name, description, tags, category_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			tags = excluded.tags,
			category_id = excluded.category_id
	`, p.SKU, p.Name, p.Description, string(tags), p.CategoryID)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	if err := s.db.QueryRow(`SELECT id FROM products WHERE sku = ?`, p.SKU).Scan(&p.ID); err != nil {
		return fmt.Errorf("select product id: %w", err)
	}
	return nil
}

// GetProductBySKU returns the product with the given SKU, or
// ErrNotFound.
func (s *Store) GetProductBySKU(sku string) (*Product, error) {
	return s.scanProduct(s.db.QueryRow(`
		SELECT id, sku, name, description, tags, category_id
		FROM products WHERE sku = ?
	`, sku))
}

// GetProductByID returns the product with the given id, or ErrNotFound.
func (s *Store) GetProductByID(id int64) (*Product, error) {
	return s.scanProduct(s.db.QueryRow(`
		SELECT id, sku, name, description, tags, category_id
		FROM products WHERE id = ?
	`, id))
}

func (s *Store) scanProduct(row *sql.Row) (*Product, error) {
	var p Product
	var tags string
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &tags, &p.CategoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return &p, nil
}

// CountProducts returns the number of products.
func (s *Store) CountProducts() (int, error) {
	return s.countRows("products")
}

func (s *Store) countRows(table string) (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
