package media

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/prodconfig"
	"github.com/mediaverse/hub/internal/queue"
	"github.com/mediaverse/hub/internal/store"
)

const testProdJSON = `{
  "version": "2.0",
  "prod_detail": {
    "code": "SKU-001",
    "name": "Wireless Earbuds",
    "tags": ["earbuds", "audio"],
    "category": "electronics"
  }
}`

type importFixture struct {
	store    *store.Store
	queue    *queue.Queue
	bus      *bus.Bus
	library  *prodconfig.Library
	importer *Importer
	topics   []string
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &importFixture{
		store:   s,
		bus:     bus.New(bus.WithLogger(logger)),
		queue:   queue.New(queue.WithLogger(logger)),
		library: prodconfig.NewLibrary(),
	}
	require.NoError(t, f.bus.Subscribe("media/#", bus.HandlerFunc(func(m bus.Message) {
		f.topics = append(f.topics, m.Topic)
	})))
	f.importer = NewImporter(s, f.library, f.queue, f.bus, logger)
	return f
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestImportFile(t *testing.T) {
	f := newImportFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "clip.mp4", []byte("first content"))

	asset, imported, err := f.importer.ImportFile(path, nil)
	require.NoError(t, err)
	assert.True(t, imported)
	assert.NotZero(t, asset.ID)
	assert.Equal(t, "clip.mp4", asset.Filename)
	assert.Equal(t, "video/mp4", asset.MimeType)
	assert.Len(t, asset.FileHash, 64)
	assert.Equal(t, []string{"media/imported"}, f.topics)
}

func TestImportFile_DuplicateContent(t *testing.T) {
	f := newImportFixture(t)
	dir := t.TempDir()
	first := writeFile(t, dir, "a.mp4", []byte("same content"))
	second := writeFile(t, dir, "b.mp4", []byte("same content"))

	original, imported, err := f.importer.ImportFile(first, nil)
	require.NoError(t, err)
	require.True(t, imported)

	dup, imported, err := f.importer.ImportFile(second, nil)
	require.NoError(t, err)
	assert.False(t, imported, "same hash is a duplicate")
	assert.Equal(t, original.ID, dup.ID)

	n, err := f.store.CountMedia()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, f.topics, "media/duplicate")
}

func TestImportFile_RejectsNonMedia(t *testing.T) {
	f := newImportFixture(t)
	path := writeFile(t, t.TempDir(), "notes.txt", []byte("x"))

	_, _, err := f.importer.ImportFile(path, nil)
	assert.Error(t, err)
}

func TestImportProductFolder(t *testing.T) {
	f := newImportFixture(t)

	dir := t.TempDir()
	writeFile(t, dir, prodconfig.FileName, []byte(testProdJSON))
	writeFile(t, dir, "clip1.mp4", []byte("content one"))
	writeFile(t, dir, "clip2.mp4", []byte("content two"))
	writeFile(t, dir, "readme.txt", []byte("ignored"))

	summary, err := f.importer.ImportProductFolder(dir)
	require.NoError(t, err)
	assert.Equal(t, "SKU-001", summary.SKU)
	assert.Equal(t, 2, summary.Enqueued)

	product, err := f.store.GetProductBySKU("SKU-001")
	require.NoError(t, err)
	assert.Equal(t, "Wireless Earbuds", product.Name)
	assert.Equal(t, []string{"earbuds", "audio"}, product.Tags)
	assert.NotNil(t, product.CategoryID)

	_, ok := f.library.Get("SKU-001")
	assert.True(t, ok, "configuration indexed")

	assert.Equal(t, 2, f.queue.Len())
}

func TestImportProductFolder_MissingConfig(t *testing.T) {
	f := newImportFixture(t)
	_, err := f.importer.ImportProductFolder(t.TempDir())
	assert.Error(t, err)
}

func TestRegisterHandlers_EndToEnd(t *testing.T) {
	f := newImportFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	writeFile(t, dir, prodconfig.FileName, []byte(testProdJSON))
	writeFile(t, dir, "clip1.mp4", []byte("content one"))
	writeFile(t, dir, "clip2.mp4", []byte("content two"))

	pool := queue.NewPool(f.queue, 2, f.bus, logger)
	require.NoError(t, f.importer.RegisterHandlers(pool))

	summary, err := f.importer.ImportProductFolder(dir)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Enqueued)

	pool.Start(context.Background())
	defer pool.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := f.store.CountMedia(); n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	n, err := f.store.CountMedia()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	product, _ := f.store.GetProductBySKU("SKU-001")
	media, err := f.store.SelectEligibleMedia(1, "youtube", &product.ID, 10)
	require.NoError(t, err)
	assert.Len(t, media, 2, "imported media linked to the product")
	assert.Empty(t, f.queue.DeadLetter())
}
