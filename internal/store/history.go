package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertPostingHistory records a posting directly. A collision with the
// uq_posting_history index returns ErrDuplicatePosting.
func (s *Store) InsertPostingHistory(h *PostingHistory) error {
	if h.PostedAt.IsZero() {
		h.PostedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO posting_history (client_id, media_id, platform, external_id, external_url, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.ClientID, h.MediaID, h.Platform, h.ExternalID, h.ExternalURL, h.PostedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("client %d media %d platform %s: %w",
				h.ClientID, h.MediaID, h.Platform, ErrDuplicatePosting)
		}
		return fmt.Errorf("insert history: %w", err)
	}

	h.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("history id: %w", err)
	}
	return nil
}

// HistoryExists reports whether the ledger holds the triple.
func (s *Store) HistoryExists(clientID, mediaID int64, platform string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM posting_history
		WHERE client_id = ? AND media_id = ? AND platform = ?
	`, clientID, mediaID, platform).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return true, nil
}

// ListPostingHistory returns a client's ledger rows, newest first.
func (s *Store) ListPostingHistory(clientID int64) ([]PostingHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, client_id, media_id, platform, external_id, external_url, posted_at
		FROM posting_history WHERE client_id = ? ORDER BY posted_at DESC, id DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]PostingHistory, 0)
	for rows.Next() {
		var h PostingHistory
		var externalID, externalURL sql.NullString
		if err := rows.Scan(&h.ID, &h.ClientID, &h.MediaID, &h.Platform,
			&externalID, &externalURL, &h.PostedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ExternalID = externalID.String
		h.ExternalURL = externalURL.String
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// CountPostingHistory returns the ledger size.
func (s *Store) CountPostingHistory() (int, error) {
	return s.countRows("posting_history")
}
