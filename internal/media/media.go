// Package media imports product media folders: content hashing,
// hash-based deduplication, and catalog registration. File imports run
// as background jobs on the work queue.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// hashChunkSize bounds memory while hashing large media files.
const hashChunkSize = 8192

// mediaExtensions are the file types the importer picks up.
var mediaExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// HashFile streams the file through SHA-256 and returns the hex digest
// and the byte count.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize))
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// MimeByExtension maps a filename to its media MIME type. Unknown
// extensions return "" and are not importable.
func MimeByExtension(name string) string {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}

// IsMediaFile reports whether the importer handles this file type.
func IsMediaFile(name string) bool {
	return MimeByExtension(name) != ""
}

// NormalizeName returns the NFC form of a filename or tag. Product
// folders arrive from several operating systems with differently
// composed unicode.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
