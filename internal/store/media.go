package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertMediaAsset stores a media row and fills in its id. A file_hash
// collision returns ErrDuplicateMedia.
func (s *Store) InsertMediaAsset(m *MediaAsset) error {
	if m.FileHash == "" {
		return fmt.Errorf("empty file hash")
	}

	res, err := s.db.Exec(`
		INSERT INTO media_assets (product_id, filename, file_path, file_hash, file_size, mime_type, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ProductID, m.Filename, m.FilePath, m.FileHash, m.FileSize, m.MimeType, m.Duration)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("hash %s: %w", m.FileHash, ErrDuplicateMedia)
		}
		return fmt.Errorf("insert media: %w", err)
	}

	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("media id: %w", err)
	}
	return nil
}

// GetMediaByID returns the media asset with the given id, or ErrNotFound.
func (s *Store) GetMediaByID(id int64) (*MediaAsset, error) {
	return s.scanMedia(s.db.QueryRow(`
		SELECT id, product_id, filename, file_path, file_hash, file_size, mime_type, duration
		FROM media_assets WHERE id = ?
	`, id))
}

// GetMediaByHash returns the media asset with the given content hash,
// or ErrNotFound.
func (s *Store) GetMediaByHash(hash string) (*MediaAsset, error) {
	return s.scanMedia(s.db.QueryRow(`
		SELECT id, product_id, filename, file_path, file_hash, file_size, mime_type, duration
		FROM media_assets WHERE file_hash = ?
	`, hash))
}

func (s *Store) scanMedia(row *sql.Row) (*MediaAsset, error) {
	var m MediaAsset
	err := row.Scan(&m.ID, &m.ProductID, &m.Filename, &m.FilePath, &m.FileHash,
		&m.FileSize, &m.MimeType, &m.Duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan media: %w", err)
	}
	return &m, nil
}

// SelectEligibleMedia samples up to limit media assets uniformly at
// random from the eligibility set for (clientID, platform): assets the
// client has never posted on that platform, optionally restricted to
// one product. Returned order is the random sample order.
func (s *Store) SelectEligibleMedia(clientID int64, platform string, productID *int64, limit int) ([]MediaAsset, error) {
	if limit <= 0 {
		return []MediaAsset{}, nil
	}

	rows, err := s.db.Query(`
		SELECT m.id, m.product_id, m.filename, m.file_path, m.file_hash, m.file_size, m.mime_type, m.duration
		FROM media_assets m
		WHERE (?1 IS NULL OR m.product_id = ?1)
		  AND m.id NOT IN (
			SELECT media_id FROM posting_history
			WHERE client_id = ?2 AND platform = ?3
		  )
		ORDER BY RANDOM()
		LIMIT ?4
	`, productID, clientID, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("select eligible media: %w", err)
	}
	defer rows.Close()

	// Empty slice, not nil, when nothing is eligible.
	out := make([]MediaAsset, 0, limit)
	for rows.Next() {
		var m MediaAsset
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Filename, &m.FilePath, &m.FileHash,
			&m.FileSize, &m.MimeType, &m.Duration); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return out, nil
}

// CountMedia returns the number of media assets.
func (s *Store) CountMedia() (int, error) {
	return s.countRows("media_assets")
}
