package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOrderWithItems materialises an order and its items in a single
// transaction. Order and item ids are filled in on success; any failure
// rolls the whole order back.
func (s *Store) CreateOrderWithItems(order *Order, items []OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("order must have at least one item")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if order.Status == "" {
		order.Status = OrderStatusPending
	}

	res, err := tx.Exec(`
		INSERT INTO orders (client_id, target_platform, status, priority, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, order.ClientID, order.TargetPlatform, order.Status, order.Priority, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	for i := range items {
		item := &items[i]
		item.OrderID = order.ID
		if item.Status == "" {
			item.Status = ItemStatusNew
		}
		res, err := tx.Exec(`
			INSERT INTO order_items (order_id, media_id, status, posting_config)
			VALUES (?, ?, ?, ?)
		`, item.OrderID, item.MediaID, item.Status, item.PostingConfig)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		item.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("order item id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetOrder returns the order with the given id, or ErrNotFound.
func (s *Store) GetOrder(id int64) (*Order, error) {
	var o Order
	var completedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, client_id, target_platform, status, priority, created_at, completed_at
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.ClientID, &o.TargetPlatform, &o.Status, &o.Priority, &o.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return &o, nil
}

// GetOrderItem returns the item with the given id, or ErrNotFound.
func (s *Store) GetOrderItem(id int64) (*OrderItem, error) {
	var it OrderItem
	var assignedAt, completedAt sql.NullTime
	var errorLog sql.NullString
	err := s.db.QueryRow(`
		SELECT id, order_id, media_id, status, posting_config, attempt_count,
		       assigned_at, completed_at, error_log
		FROM order_items WHERE id = ?
	`, id).Scan(&it.ID, &it.OrderID, &it.MediaID, &it.Status, &it.PostingConfig,
		&it.AttemptCount, &assignedAt, &completedAt, &errorLog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order item: %w", err)
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		it.AssignedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		it.CompletedAt = &t
	}
	it.ErrorLog = errorLog.String
	return &it, nil
}

// ListOrderItems returns the items of an order in insertion order.
func (s *Store) ListOrderItems(orderID int64) ([]OrderItem, error) {
	rows, err := s.db.Query(`
		SELECT id, order_id, media_id, status, posting_config, attempt_count,
		       assigned_at, completed_at, error_log
		FROM order_items WHERE order_id = ? ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	out := make([]OrderItem, 0)
	for rows.Next() {
		var it OrderItem
		var assignedAt, completedAt sql.NullTime
		var errorLog sql.NullString
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MediaID, &it.Status, &it.PostingConfig,
			&it.AttemptCount, &assignedAt, &completedAt, &errorLog); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if assignedAt.Valid {
			t := assignedAt.Time
			it.AssignedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			it.CompletedAt = &t
		}
		it.ErrorLog = errorLog.String
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return out, nil
}

// ConfirmResult reports the outcome of a pre-flight confirmation.
type ConfirmResult struct {
	OK     bool
	Status string // item status after the call
	Reason string // refusal reason when !OK
}

// itemContext is the item row joined with its order, loaded inside a
// transaction before any mutation.
type itemContext struct {
	status   string
	mediaID  int64
	clientID int64
	platform string
	orderID  int64
}

func loadItemContext(tx *sql.Tx, itemID int64) (*itemContext, error) {
	var c itemContext
	err := tx.QueryRow(`
		SELECT i.status, i.media_id, o.client_id, o.target_platform, o.id
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.id = ?
	`, itemID).Scan(&c.status, &c.mediaID, &c.clientID, &c.platform, &c.orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	return &c, nil
}

// ConfirmItem is the "can I post?" pre-flight. A new item moves to
// processing; a processing item is confirmed idempotently; a terminal
// item is refused. When the posting-history ledger already holds the
// item's (client, media, platform) triple, the item is demoted to
// skipped and the confirmation refused.
func (s *Store) ConfirmItem(itemID int64) (*ConfirmResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	c, err := loadItemContext(tx, itemID)
	if err != nil {
		return nil, err
	}

	if !IsTerminalItemStatus(c.status) {
		var exists int
		err := tx.QueryRow(`
			SELECT 1 FROM posting_history
			WHERE client_id = ? AND media_id = ? AND platform = ?
		`, c.clientID, c.mediaID, c.platform).Scan(&exists)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check history: %w", err)
		}
		if err == nil {
			if _, err := tx.Exec(`
				UPDATE order_items SET status = ?, completed_at = ? WHERE id = ?
			`, ItemStatusSkipped, time.Now(), itemID); err != nil {
				return nil, fmt.Errorf("skip item: %w", err)
			}
			if err := recomputeOrder(tx, c.orderID); err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit: %w", err)
			}
			return &ConfirmResult{
				OK:     false,
				Status: ItemStatusSkipped,
				Reason: "media already posted for this client and platform",
			}, nil
		}
	}

	switch c.status {
	case ItemStatusNew:
		if _, err := tx.Exec(`
			UPDATE order_items
			SET status = ?, assigned_at = ?, attempt_count = attempt_count + 1
			WHERE id = ?
		`, ItemStatusProcessing, time.Now(), itemID); err != nil {
			return nil, fmt.Errorf("claim item: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &ConfirmResult{OK: true, Status: ItemStatusProcessing}, nil

	case ItemStatusProcessing:
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &ConfirmResult{OK: true, Status: ItemStatusProcessing}, nil

	default:
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &ConfirmResult{
			OK:     false,
			Status: c.status,
			Reason: fmt.Sprintf("item already %s", c.status),
		}, nil
	}
}

// ReportResult reports the effect of a job report.
type ReportResult struct {
	OK             bool
	Outcome        string // final item status: done, failed or skipped
	Reason         string // refusal reason when !OK
	OrderID        int64
	MediaID        int64
	ClientID       int64
	Platform       string
	OrderCompleted bool
}

// ReportItem records a job outcome in one transaction.
//
// On "done" the item moves to done and a posting-history row is
// inserted; a unique-index violation on that insert demotes the item
// to skipped without error (another path already recorded the triple).
// On "failed" the item moves to failed with the error log attached.
// Either way the parent order flips to completed once every item is
// terminal.
func (s *Store) ReportItem(itemID int64, outcome, externalID, externalURL, errLog string) (*ReportResult, error) {
	if outcome != ItemStatusDone && outcome != ItemStatusFailed {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	c, err := loadItemContext(tx, itemID)
	if err != nil {
		return nil, err
	}

	result := &ReportResult{
		OrderID:  c.orderID,
		MediaID:  c.mediaID,
		ClientID: c.clientID,
		Platform: c.platform,
	}

	if IsTerminalItemStatus(c.status) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		result.Outcome = c.status
		result.Reason = fmt.Sprintf("item already %s", c.status)
		return result, nil
	}

	now := time.Now()
	switch outcome {
	case ItemStatusDone:
		if _, err := tx.Exec(`
			UPDATE order_items SET status = ?, completed_at = ? WHERE id = ?
		`, ItemStatusDone, now, itemID); err != nil {
			return nil, fmt.Errorf("complete item: %w", err)
		}

		_, err := tx.Exec(`
			INSERT INTO posting_history (client_id, media_id, platform, external_id, external_url, posted_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.clientID, c.mediaID, c.platform, externalID, externalURL, now)
		switch {
		case err == nil:
			result.OK = true
			result.Outcome = ItemStatusDone
		case isUniqueViolation(err):
			// Expected race: the ledger already holds the triple.
			if _, err := tx.Exec(`
				UPDATE order_items SET status = ? WHERE id = ?
			`, ItemStatusSkipped, itemID); err != nil {
				return nil, fmt.Errorf("demote item: %w", err)
			}
			result.OK = true
			result.Outcome = ItemStatusSkipped
		default:
			return nil, fmt.Errorf("insert history: %w", err)
		}

	case ItemStatusFailed:
		if _, err := tx.Exec(`
			UPDATE order_items SET status = ?, completed_at = ?, error_log = ? WHERE id = ?
		`, ItemStatusFailed, now, errLog, itemID); err != nil {
			return nil, fmt.Errorf("fail item: %w", err)
		}
		result.OK = true
		result.Outcome = ItemStatusFailed
	}

	completed, err := recomputeOrderStatus(tx, c.orderID)
	if err != nil {
		return nil, err
	}
	result.OrderCompleted = completed

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// recomputeOrder updates the parent order's status, discarding the
// completion flag.
func recomputeOrder(tx *sql.Tx, orderID int64) error {
	_, err := recomputeOrderStatus(tx, orderID)
	return err
}

// recomputeOrderStatus flips an order to completed when all of its
// items are terminal. Returns true when the flip happened in this call.
func recomputeOrderStatus(tx *sql.Tx, orderID int64) (bool, error) {
	var open int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM order_items
		WHERE order_id = ? AND status NOT IN (?, ?, ?)
	`, orderID, ItemStatusDone, ItemStatusFailed, ItemStatusSkipped).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("count open items: %w", err)
	}
	if open > 0 {
		return false, nil
	}

	res, err := tx.Exec(`
		UPDATE orders SET status = ?, completed_at = ?
		WHERE id = ? AND status != ?
	`, OrderStatusCompleted, time.Now(), orderID, OrderStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	return n > 0, nil
}

// CountOrders returns the number of orders.
func (s *Store) CountOrders() (int, error) {
	return s.countRows("orders")
}
