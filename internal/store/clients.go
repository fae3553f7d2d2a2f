package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateClient registers a client account and fills in its id. The
// client_code must be unused.
func (s *Store) CreateClient(c *ClientAccount) error {
	if c.ClientCode == "" {
		return fmt.Errorf("empty client code")
	}

	res, err := s.db.Exec(`
		INSERT INTO client_accounts (client_code, platform, is_active, last_seen)
		VALUES (?, ?, ?, ?)
	`, c.ClientCode, c.Platform, c.IsActive, c.LastSeen)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}

	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	return nil
}

// GetClientByCode returns the client account with the given code, or
// ErrNotFound.
func (s *Store) GetClientByCode(code string) (*ClientAccount, error) {
	return s.scanClient(s.db.QueryRow(`
		SELECT id, client_code, platform, is_active, last_seen
		FROM client_accounts WHERE client_code = ?
	`, code))
}

// GetClientByID returns the client account with the given id, or
// ErrNotFound.
func (s *Store) GetClientByID(id int64) (*ClientAccount, error) {
	return s.scanClient(s.db.QueryRow(`
		SELECT id, client_code, platform, is_active, last_seen
		FROM client_accounts WHERE id = ?
	`, id))
}

func (s *Store) scanClient(row *sql.Row) (*ClientAccount, error) {
	var c ClientAccount
	var lastSeen sql.NullTime
	err := row.Scan(&c.ID, &c.ClientCode, &c.Platform, &c.IsActive, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		c.LastSeen = &t
	}
	return &c, nil
}

// TouchClient refreshes a client's last_seen stamp.
func (s *Store) TouchClient(id int64, seen time.Time) error {
	_, err := s.db.Exec(`UPDATE client_accounts SET last_seen = ? WHERE id = ?`, seen, id)
	if err != nil {
		return fmt.Errorf("touch client: %w", err)
	}
	return nil
}

// ListClients returns all client accounts ordered by client_code.
func (s *Store) ListClients() ([]ClientAccount, error) {
	rows, err := s.db.Query(`
		SELECT id, client_code, platform, is_active, last_seen
		FROM client_accounts ORDER BY client_code
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	out := make([]ClientAccount, 0)
	for rows.Next() {
		var c ClientAccount
		var lastSeen sql.NullTime
		if err := rows.Scan(&c.ID, &c.ClientCode, &c.Platform, &c.IsActive, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			c.LastSeen = &t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return out, nil
}

// CountClients returns the number of client accounts.
func (s *Store) CountClients() (int, error) {
	return s.countRows("client_accounts")
}
