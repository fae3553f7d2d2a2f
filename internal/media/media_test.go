package media

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	content := make([]byte, 3*hashChunkSize+17) // spans several chunks
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	hash, size, err := HashFile(path)
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), hash)
	assert.Equal(t, int64(len(content)), size)
}

func TestHashFile_Missing(t *testing.T) {
	_, _, err := HashFile(filepath.Join(t.TempDir(), "nope.mp4"))
	assert.Error(t, err)
}

func TestMimeByExtension(t *testing.T) {
	assert.Equal(t, "video/mp4", MimeByExtension("clip.mp4"))
	assert.Equal(t, "video/mp4", MimeByExtension("CLIP.MP4"))
	assert.Equal(t, "image/jpeg", MimeByExtension("photo.jpeg"))
	assert.Empty(t, MimeByExtension("notes.txt"))
	assert.Empty(t, MimeByExtension("noext"))

	assert.True(t, IsMediaFile("a.webm"))
	assert.False(t, IsMediaFile("a.exe"))
}

func TestNormalizeName(t *testing.T) {
	// e + combining acute composes to a single rune.
	decomposed := "cafe\u0301.mp4"
	composed := "caf\u00e9.mp4"

	assert.Equal(t, composed, NormalizeName(decomposed))
	assert.Equal(t, "clip.mp4", NormalizeName("  clip.mp4  "))
}
