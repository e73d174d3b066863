package constants

import "strings"

// SourceKind is the content-derived kind of an ingested file.
type SourceKind string

const (
	PDF   SourceKind = "PDF"
	IMAGE SourceKind = "IMAGE"
)

// DefaultFilePatterns is used when no patterns are configured.
var DefaultFilePatterns = []string{"*.pdf", "*.jpg", "*.jpeg", "*.png", "*.tiff", "*.tif"}

// MaxErrorMessageLen bounds error_message on batches (in runes).
const MaxErrorMessageLen = 500

// ImageOCRConfidence is used for image pages when tesseract reports no token confidences.
const ImageOCRConfidence = 0.85

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
