package store

import (
	"fmt"
	"path/filepath"
	"testing"
)

// newTestStore opens a store backed by a temp-dir database.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hub.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClient(t *testing.T, s *Store, code, platform string) *ClientAccount {
	t.Helper()

	c := &ClientAccount{ClientCode: code, Platform: platform, IsActive: true}
	if err := s.CreateClient(c); err != nil {
		t.Fatalf("CreateClient(%s) failed: %v", code, err)
	}
	return c
}

func seedProduct(t *testing.T, s *Store, sku string, tags []string) *Product {
	t.Helper()

	p := &Product{SKU: sku, Name: "Product " + sku, Description: "desc", Tags: tags}
	if err := s.UpsertProduct(p); err != nil {
		t.Fatalf("UpsertProduct(%s) failed: %v", sku, err)
	}
	return p
}

func seedMedia(t *testing.T, s *Store, productID *int64, n int) *MediaAsset {
	t.Helper()

	m := &MediaAsset{
		ProductID: productID,
		Filename:  fmt.Sprintf("clip-%03d.mp4", n),
		FilePath:  fmt.Sprintf("/media/clip-%03d.mp4", n),
		FileHash:  fmt.Sprintf("%064d", n),
		FileSize:  1024,
		MimeType:  "video/mp4",
	}
	if err := s.InsertMediaAsset(m); err != nil {
		t.Fatalf("InsertMediaAsset(%d) failed: %v", n, err)
	}
	return m
}

// seedOrder creates an order with one item per media id, all status new.
func seedOrder(t *testing.T, s *Store, clientID int64, platform string, mediaIDs ...int64) (*Order, []OrderItem) {
	t.Helper()

	order := &Order{ClientID: clientID, TargetPlatform: platform}
	items := make([]OrderItem, len(mediaIDs))
	for i, id := range mediaIDs {
		items[i] = OrderItem{MediaID: id, PostingConfig: "{}"}
	}
	if err := s.CreateOrderWithItems(order, items); err != nil {
		t.Fatalf("CreateOrderWithItems() failed: %v", err)
	}
	return order, items
}
