package storage

import (
	"fmt"
	"mime"
	"strings"
)

// AllowedContentTypes lists the media kinds a chat can carry.
var AllowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,

	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
	"video/3gpp":      true,

	"audio/mpeg": true,
	"audio/ogg":  true,
	"audio/opus": true,
	"audio/mp4":  true,
	"audio/aac":  true,
	"audio/amr":  true,
	"audio/webm": true,
}

func normalizeContentType(contentType string) string {
	normalized := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(normalized))
}

// ValidateContentType checks if the content type is allowed.
func ValidateContentType(contentType string) error {
	if !AllowedContentTypes[normalizeContentType(contentType)] {
		return fmt.Errorf("content type %q is not allowed", contentType)
	}
	return nil
}

// ValidateFileSize checks if the file size is within limits. A non-positive
// limit disables the upper bound.
func ValidateFileSize(sizeBytes, maxBytes int64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("file size must be greater than 0")
	}
	if maxBytes > 0 && sizeBytes > maxBytes {
		return fmt.Errorf("file size %d bytes exceeds maximum allowed size of %d bytes", sizeBytes, maxBytes)
	}
	return nil
}

// ExtensionFor picks a file extension for a content type, ".bin" if unknown.
func ExtensionFor(contentType string) string {
	switch normalizeContentType(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	}
	if exts, err := mime.ExtensionsByType(normalizeContentType(contentType)); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
