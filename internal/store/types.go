package store

import "time"

// Order statuses.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// OrderItem statuses. The legal transitions are
// new -> processing -> {done, failed, skipped}; new -> skipped is also
// reachable when a duplicate is detected before confirmation.
const (
	ItemStatusNew        = "new"
	ItemStatusProcessing = "processing"
	ItemStatusDone       = "done"
	ItemStatusFailed     = "failed"
	ItemStatusSkipped    = "skipped"
)

// IsTerminalItemStatus reports whether an item status admits no further
// transitions.
func IsTerminalItemStatus(status string) bool {
	switch status {
	case ItemStatusDone, ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}

// Category groups products.
type Category struct {
	ID   int64
	Name string
}

// Product is a sellable item; media assets hang off it. Tags keep
// their configured order.
type Product struct {
	ID          int64
	SKU         string
	Name        string
	Description string
	Tags        []string
	CategoryID  *int64
}

// MediaAsset is one content-addressed media file. FileHash is the
// SHA-256 hex of the file content and is the deduplication key.
type MediaAsset struct {
	ID        int64
	ProductID *int64
	Filename  string
	FilePath  string
	FileHash  string
	FileSize  int64
	MimeType  string
	Duration  *float64
}

// ClientAccount is a registered agent.
type ClientAccount struct {
	ID         int64
	ClientCode string
	Platform   string
	IsActive   bool
	LastSeen   *time.Time
}

// Order is one just-in-time batch of work for a client.
type Order struct {
	ID             int64
	ClientID       int64
	TargetPlatform string
	Status         string
	Priority       int
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// OrderItem is one job within an order. PostingConfig is the opaque
// JSON snapshot of the payload computed at build time.
type OrderItem struct {
	ID            int64
	OrderID       int64
	MediaID       int64
	Status        string
	PostingConfig string
	AttemptCount  int
	AssignedAt    *time.Time
	CompletedAt   *time.Time
	ErrorLog      string
}

// PostingHistory is one row of the uniqueness ledger.
type PostingHistory struct {
	ID          int64
	ClientID    int64
	MediaID     int64
	Platform    string
	ExternalID  string
	ExternalURL string
	PostedAt    time.Time
}
