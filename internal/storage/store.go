// Package storage persists generated image bytes and hands back the public
// URL they are served from. Keys are content addressed, so storing the same
// bytes twice yields the same URL.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
)

// ObjectStore is the write side of asset storage.
type ObjectStore interface {
	Store(ctx context.Context, data []byte) (url string, err error)
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyFor returns the storage key for data: patterns/<2 hex>/<digest>.png.
func KeyFor(data []byte) string {
	d := Digest(data)
	return "patterns/" + d[:2] + "/" + d + ".png"
}

// JoinURL joins a base URL (absolute or path-only) and a cleaned key.
func JoinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return base + "/" + strings.TrimLeft(key, "/")
}

// sanitizeKey normalizes a key and refuses anything that would escape the
// storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := strings.ReplaceAll(filepath.Clean(key), "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
