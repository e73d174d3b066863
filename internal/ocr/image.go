package ocr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// NormalizeImage decodes src (png, jpeg, tiff, bmp, gif), applies EXIF
// orientation and writes it as PNG to dst. The PNG is the stored page image
// and the OCR input.
func NormalizeImage(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}
	if err := imaging.Save(img, dst); err != nil {
		return fmt.Errorf("write page image: %w", err)
	}
	return nil
}
