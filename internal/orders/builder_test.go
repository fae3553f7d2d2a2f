package orders

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/platform"
	"github.com/mediaverse/hub/internal/prodconfig"
	"github.com/mediaverse/hub/internal/store"
)

type builderFixture struct {
	store   *store.Store
	bus     *bus.Bus
	library *prodconfig.Library
	builder *Builder
	client  *store.ClientAccount
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	client := &store.ClientAccount{ClientCode: "BOT-YT-001", Platform: "youtube", IsActive: true}
	require.NoError(t, s.CreateClient(client))

	b := bus.New(bus.WithLogger(logger))
	lib := prodconfig.NewLibrary()
	builder := NewBuilder(s, lib, platform.NewRegistry(), b,
		WithRand(rand.New(rand.NewSource(1))),
		WithLogger(logger))

	return &builderFixture{store: s, bus: b, library: lib, builder: builder, client: client}
}

func (f *builderFixture) seedProduct(t *testing.T, sku string, tags []string) *store.Product {
	t.Helper()
	p := &store.Product{SKU: sku, Name: "Product " + sku, Description: "Long description.", Tags: tags}
	require.NoError(t, f.store.UpsertProduct(p))
	return p
}

func (f *builderFixture) seedMedia(t *testing.T, productID *int64, n int) *store.MediaAsset {
	t.Helper()
	m := &store.MediaAsset{
		ProductID: productID,
		Filename:  fmt.Sprintf("clip-%03d.mp4", n),
		FilePath:  fmt.Sprintf("/media/clip-%03d.mp4", n),
		FileHash:  fmt.Sprintf("%064d", n),
		MimeType:  "video/mp4",
	}
	require.NoError(t, f.store.InsertMediaAsset(m))
	return m
}

func TestBuild_UnknownClient(t *testing.T) {
	f := newBuilderFixture(t)

	res, err := f.builder.Build("BOT-NOPE", "", 1, "")
	require.NoError(t, err)
	assert.Nil(t, res, "unknown client yields no order")
}

func TestBuild_NothingEligible(t *testing.T) {
	f := newBuilderFixture(t)

	res, err := f.builder.Build("BOT-YT-001", "", 1, "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestBuild_AssignsEligibleMedia(t *testing.T) {
	f := newBuilderFixture(t)
	p := f.seedProduct(t, "SKU-1", []string{"a", "b", "c", "d", "e", "f"})
	for n := 1; n <= 3; n++ {
		f.seedMedia(t, &p.ID, n)
	}

	var created []bus.Message
	require.NoError(t, f.bus.Subscribe("order/created", bus.HandlerFunc(func(m bus.Message) {
		created = append(created, m)
	})))

	res, err := f.builder.Build("BOT-YT-001", "", 2, "")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, store.OrderStatusPending, res.Order.Status)
	assert.Equal(t, "youtube", res.Order.TargetPlatform, "platform defaults to the client's")
	require.Len(t, res.Payloads, 2)

	for _, p := range res.Payloads {
		assert.NotZero(t, p.JobID)
		assert.NotZero(t, p.MediaID)
		assert.Len(t, p.MediaHash, 64)
		assert.NotEmpty(t, p.Title)
		assert.Equal(t, "public", p.PlatformConfig["privacy"])
	}

	items, err := f.store.ListOrderItems(res.Order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for i, it := range items {
		assert.Equal(t, store.ItemStatusNew, it.Status)
		assert.Equal(t, res.Payloads[i].JobID, it.ID)

		var snapshot Payload
		require.NoError(t, json.Unmarshal([]byte(it.PostingConfig), &snapshot))
		assert.Equal(t, res.Payloads[i].MediaID, snapshot.MediaID)
	}

	require.Len(t, created, 1)
	assert.Equal(t, int64(res.Order.ID), created[0].Payload["order_id"])
}

func TestBuild_NoDuplicateMediaWithinOrder(t *testing.T) {
	f := newBuilderFixture(t)
	p := f.seedProduct(t, "SKU-1", nil)
	for n := 1; n <= 100; n++ {
		f.seedMedia(t, &p.ID, n)
	}

	res, err := f.builder.Build("BOT-YT-001", "", 10, "SKU-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Payloads, 10)

	seen := make(map[int64]bool)
	for _, payload := range res.Payloads {
		assert.False(t, seen[payload.MediaID], "media %d assigned twice", payload.MediaID)
		seen[payload.MediaID] = true
	}
}

func TestBuild_SubtractsPostingHistory(t *testing.T) {
	f := newBuilderFixture(t)

	var m3 int64
	for n := 1; n <= 5; n++ {
		m := f.seedMedia(t, nil, n)
		if n == 3 {
			m3 = m.ID
		}
	}
	require.NoError(t, f.store.InsertPostingHistory(&store.PostingHistory{
		ClientID: f.client.ID, MediaID: m3, Platform: "youtube",
	}))

	res, err := f.builder.Build("BOT-YT-001", "", 5, "")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.LessOrEqual(t, len(res.Payloads), 4)
	for _, payload := range res.Payloads {
		assert.NotEqual(t, m3, payload.MediaID, "posted media must not be re-assigned")
	}
}

func TestBuild_UnknownProdCodeDropsFilter(t *testing.T) {
	f := newBuilderFixture(t)
	f.seedMedia(t, nil, 1)

	res, err := f.builder.Build("BOT-YT-001", "", 1, "SKU-MISSING")
	require.NoError(t, err)
	require.NotNil(t, res, "unknown sku falls back to the whole pool")
	assert.Len(t, res.Payloads, 1)
}

func TestBuild_ProdCodeFilter(t *testing.T) {
	f := newBuilderFixture(t)
	p1 := f.seedProduct(t, "SKU-1", nil)
	p2 := f.seedProduct(t, "SKU-2", nil)
	f.seedMedia(t, &p1.ID, 1)
	wanted := f.seedMedia(t, &p2.ID, 2)

	res, err := f.builder.Build("BOT-YT-001", "", 5, "SKU-2")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Payloads, 1)
	assert.Equal(t, wanted.ID, res.Payloads[0].MediaID)
}

func TestBuild_UsesLibraryConfiguration(t *testing.T) {
	f := newBuilderFixture(t)
	p := f.seedProduct(t, "SKU-001", []string{"db-tag"})
	f.seedMedia(t, &p.ID, 1)

	cfg, err := prodconfig.Parse([]byte(`{
	  "version": "2.0",
	  "prod_detail": {
	    "code": "SKU-001",
	    "name": "Wireless Earbuds",
	    "short_description": "Compact earbuds",
	    "long_description": "Compact earbuds with long battery life.",
	    "tags": ["earbuds", "audio", "wireless", "gadget", "bluetooth", "tech"]
	  },
	  "platforms": {
	    "youtube": {"platform_type": "video", "privacy": "unlisted"},
	    "shopee": {
	      "platform_type": "commerce",
	      "aff_urls": [{"url": "https://shopee.example/x", "label": "Store", "is_primary": true}]
	    }
	  }
	}`))
	require.NoError(t, err)
	f.library.Put(cfg)

	res, err := f.builder.Build("BOT-YT-001", "", 1, "")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Payloads, 1)

	payload := res.Payloads[0]
	assert.Contains(t, payload.Description, "Compact earbuds with long battery life.")
	assert.Equal(t, "unlisted", payload.PlatformConfig["privacy"])
	assert.Equal(t, "https://shopee.example/x", payload.AffiliateURL)
	assert.Equal(t, "Store", payload.AffiliateLabel)
	assert.Equal(t, "earbuds", payload.Tags[0], "stable head from configured tags")
	assert.Equal(t, "audio", payload.Tags[1])
}
