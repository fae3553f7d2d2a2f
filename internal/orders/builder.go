// Package orders implements just-in-time order assembly: eligible-media
// selection, payload randomisation, and atomic order materialisation.
package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/platform"
	"github.com/mediaverse/hub/internal/prodconfig"
	"github.com/mediaverse/hub/internal/store"
)

// Payload is what an agent receives for one job. JobID is the
// OrderItem id, assigned at materialisation.
type Payload struct {
	JobID          int64          `json:"job_id,omitempty"`
	MediaID        int64          `json:"media_id"`
	MediaHash      string         `json:"media_hash"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Tags           []string       `json:"tags"`
	AffiliateURL   string         `json:"affiliate_url"`
	AffiliateLabel string         `json:"affiliate_label"`
	PlatformConfig map[string]any `json:"platform_config"`
}

// Result is one materialised order with its agent-facing payloads.
type Result struct {
	Order    *store.Order
	Payloads []Payload
}

// Builder assembles orders on demand. All randomised behavior draws
// from one injected RNG so tests can fix the seed.
type Builder struct {
	store     *store.Store
	library   *prodconfig.Library
	platforms *platform.Registry
	bus       *bus.Bus
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRand injects the RNG.
func WithRand(rng *rand.Rand) BuilderOption {
	return func(b *Builder) { b.rng = rng }
}

// WithLogger sets the builder logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder over its collaborators.
func NewBuilder(s *store.Store, lib *prodconfig.Library, platforms *platform.Registry, evb *bus.Bus, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:     s,
		library:   lib,
		platforms: platforms,
		bus:       evb,
		logger:    slog.Default(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build materialises one order for (clientCode, platformName) with up
// to quantity items. An empty platformName uses the client's registered
// platform. A non-empty prodCode restricts selection to that product;
// an unknown prodCode drops the restriction.
//
// A nil, nil return means "no order": unknown client or nothing
// eligible. Store failures roll back and surface as errors.
func (b *Builder) Build(clientCode, platformName string, quantity int, prodCode string) (*Result, error) {
	if quantity <= 0 {
		quantity = 1
	}

	client, err := b.store.GetClientByCode(clientCode)
	if errors.Is(err, store.ErrNotFound) {
		b.logger.Warn("order request from unknown client", "client_code", clientCode)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if platformName == "" {
		platformName = client.Platform
	}

	var productID *int64
	if prodCode != "" {
		product, err := b.store.GetProductBySKU(prodCode)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Unknown sku drops the filter rather than failing the
			// request.
			b.logger.Warn("unknown prod_code, ignoring filter", "prod_code", prodCode)
		case err != nil:
			return nil, fmt.Errorf("load product: %w", err)
		default:
			productID = &product.ID
		}
	}

	media, err := b.store.SelectEligibleMedia(client.ID, platformName, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("select eligible media: %w", err)
	}
	if len(media) == 0 {
		b.logger.Info("no eligible media",
			"client_code", clientCode,
			"platform", platformName,
			"prod_code", prodCode)
		return nil, nil
	}

	shaper := b.platforms.Get(platformName)

	payloads := make([]Payload, 0, len(media))
	items := make([]store.OrderItem, 0, len(media))
	products := make(map[int64]*store.Product)
	for _, m := range media {
		payload, err := b.buildPayload(&m, platformName, shaper, products)
		if err != nil {
			return nil, err
		}

		snapshot, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal posting config: %w", err)
		}
		items = append(items, store.OrderItem{
			MediaID:       m.ID,
			PostingConfig: string(snapshot),
		})
		payloads = append(payloads, payload)
	}

	order := &store.Order{
		ClientID:       client.ID,
		TargetPlatform: platformName,
	}
	if err := b.store.CreateOrderWithItems(order, items); err != nil {
		return nil, fmt.Errorf("materialise order: %w", err)
	}
	for i := range payloads {
		payloads[i].JobID = items[i].ID
	}

	if b.bus != nil {
		_ = b.bus.Publish("order/created", map[string]any{
			"order_id":    order.ID,
			"client_code": clientCode,
			"platform":    platformName,
			"items":       len(items),
		}, "orders")
	}
	b.logger.Info("order created",
		"order_id", order.ID,
		"client_code", clientCode,
		"platform", platformName,
		"items", len(items))

	return &Result{Order: order, Payloads: payloads}, nil
}

// buildPayload shapes and randomises the payload for one media asset.
func (b *Builder) buildPayload(m *store.MediaAsset, platformName string, shaper platform.Shaper, cache map[int64]*store.Product) (Payload, error) {
	in := platform.Input{}
	var cfg *prodconfig.Config

	if m.ProductID != nil {
		product, ok := cache[*m.ProductID]
		if !ok {
			loaded, err := b.store.GetProductByID(*m.ProductID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return Payload{}, fmt.Errorf("load product %d: %w", *m.ProductID, err)
			}
			product = loaded
			cache[*m.ProductID] = product
		}
		if product != nil {
			in.ProductName = product.Name
			in.LongDescription = product.Description
			in.Tags = product.Tags
			if b.library != nil {
				if c, ok := b.library.Get(product.SKU); ok {
					cfg = c
				}
			}
		}
	}
	if in.ProductName == "" {
		in.ProductName = m.Filename
	}

	if cfg != nil {
		in.ShortDescription = cfg.ProdDetail.ShortDescription
		if cfg.ProdDetail.LongDescription != "" {
			in.LongDescription = cfg.ProdDetail.LongDescription
		}
		if len(cfg.ProdDetail.Tags) > 0 {
			in.Tags = cfg.ProdDetail.Tags
		}
		in.Config = cfg.Platform(platformName)
	}

	b.mu.Lock()
	in.Tags = ShuffleTags(b.rng, in.Tags, shaper.StableTagCount())
	shaped := shaper.Shape(in)
	shaped.Description = VaryDescription(b.rng, shaped.Description)
	affURL, affLabel := PickAffiliate(b.rng, affiliateLinks(cfg, platformName))
	b.mu.Unlock()

	return Payload{
		MediaID:        m.ID,
		MediaHash:      m.FileHash,
		Title:          shaped.Title,
		Description:    shaped.Description,
		Tags:           shaped.Tags,
		AffiliateURL:   affURL,
		AffiliateLabel: affLabel,
		PlatformConfig: shaped.Config,
	}, nil
}

// affiliateLinks resolves the link pool for a product. The commerce
// (shopee) block is the canonical home for affiliate links; the target
// platform's own block is the fallback.
func affiliateLinks(cfg *prodconfig.Config, platformName string) []prodconfig.AffiliateURL {
	if cfg == nil {
		return nil
	}
	if pc := cfg.Platform("shopee"); pc != nil && len(pc.AffURLs) > 0 {
		return pc.AffURLs
	}
	if pc := cfg.Platform(platformName); pc != nil {
		return pc.AffURLs
	}
	return nil
}
