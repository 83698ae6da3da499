// Package storage implements domain.ObjectStore backends.
package storage

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
)

// StorageError wraps a failed write.
type StorageError struct {
	Backend string
	Key     string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: put %q: %v", e.Backend, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

// DefaultExtension is used for content types with no known mapping.
const DefaultExtension = ".jpg"

// ExtensionFor maps a content type to a file extension. Parameters such as
// charset are ignored.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	return DefaultExtension
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid key")
	}
	return cleaned, nil
}
