package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/prodconfig"
	"github.com/mediaverse/hub/internal/queue"
	"github.com/mediaverse/hub/internal/store"
)

// JobTypeImport is the queue job type for single-file imports.
const JobTypeImport = "media_import"

// Importer registers products and imports their media files.
type Importer struct {
	store   *store.Store
	library *prodconfig.Library
	queue   *queue.Queue
	bus     *bus.Bus
	logger  *slog.Logger
}

// NewImporter wires an Importer.
func NewImporter(s *store.Store, lib *prodconfig.Library, q *queue.Queue, b *bus.Bus, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: s, library: lib, queue: q, bus: b, logger: logger}
}

// ImportFile hashes one file and stores it as a media asset. A hash
// already present in the store is a duplicate: the existing asset is
// returned with imported = false and media/duplicate is published.
func (i *Importer) ImportFile(path string, productID *int64) (asset *store.MediaAsset, imported bool, err error) {
	mime := MimeByExtension(path)
	if mime == "" {
		return nil, false, fmt.Errorf("%s: not a media file", path)
	}

	hash, size, err := HashFile(path)
	if err != nil {
		return nil, false, err
	}

	if existing, err := i.store.GetMediaByHash(hash); err == nil {
		i.publish("media/duplicate", map[string]any{
			"path":     path,
			"hash":     hash,
			"media_id": existing.ID,
		})
		i.logger.Info("duplicate media skipped", "path", path, "hash", hash)
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup hash: %w", err)
	}

	asset = &store.MediaAsset{
		ProductID: productID,
		Filename:  NormalizeName(filepath.Base(path)),
		FilePath:  path,
		FileHash:  hash,
		FileSize:  size,
		MimeType:  mime,
	}
	if err := i.store.InsertMediaAsset(asset); err != nil {
		if errors.Is(err, store.ErrDuplicateMedia) {
			// Lost the race to a concurrent import of the same content.
			existing, lookupErr := i.store.GetMediaByHash(hash)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	i.publish("media/imported", map[string]any{
		"media_id": asset.ID,
		"hash":     hash,
		"size":     size,
	})
	i.logger.Info("media imported", "path", path, "hash", hash, "size", size)
	return asset, true, nil
}

// Summary reports what a folder import did.
type Summary struct {
	SKU      string
	Enqueued int
	Skipped  int
}

// ImportProductFolder registers the folder's prod.json (catalog row
// plus configuration library entry) and enqueues one import job per
// media file found under the folder.
func (i *Importer) ImportProductFolder(dir string) (*Summary, error) {
	cfg, err := prodconfig.LoadFile(filepath.Join(dir, prodconfig.FileName))
	if err != nil {
		return nil, err
	}

	product := &store.Product{
		SKU:         cfg.ProdDetail.Code,
		Name:        NormalizeName(cfg.ProdDetail.Name),
		Description: cfg.ProdDetail.LongDescription,
	}
	for _, tag := range cfg.ProdDetail.Tags {
		product.Tags = append(product.Tags, NormalizeName(tag))
	}
	if cfg.ProdDetail.Category != "" {
		categoryID, err := i.store.UpsertCategory(cfg.ProdDetail.Category)
		if err != nil {
			return nil, err
		}
		product.CategoryID = &categoryID
	}
	if err := i.store.UpsertProduct(product); err != nil {
		return nil, err
	}
	if i.library != nil {
		i.library.Put(cfg)
	}

	summary := &Summary{SKU: product.SKU}
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsMediaFile(d.Name()) {
			return nil
		}
		_, err = i.queue.Enqueue(JobTypeImport, map[string]any{
			"path":       path,
			"product_id": product.ID,
		}, queue.PriorityNormal, 3)
		if err != nil {
			return err
		}
		summary.Enqueued++
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, walkErr)
	}

	i.logger.Info("product folder imported",
		"sku", summary.SKU,
		"enqueued", summary.Enqueued)
	return summary, nil
}

// RegisterHandlers binds the importer's job types on a worker pool.
func (i *Importer) RegisterHandlers(pool *queue.Pool) error {
	return pool.RegisterHandler(JobTypeImport, func(_ context.Context, job *queue.Job) (any, error) {
		path, _ := job.Payload["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("import job missing path")
		}
		var productID *int64
		switch v := job.Payload["product_id"].(type) {
		case int64:
			if v > 0 {
				productID = &v
			}
		case float64:
			if v > 0 {
				id := int64(v)
				productID = &id
			}
		}
		asset, _, err := i.ImportFile(path, productID)
		if err != nil {
			return nil, err
		}
		return asset.ID, nil
	})
}

func (i *Importer) publish(topic string, payload map[string]any) {
	if i.bus == nil {
		return
	}
	_ = i.bus.Publish(topic, payload, "media")
}
