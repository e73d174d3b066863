package ocr

import "github.com/joseph-ayodele/docintake/internal/common"

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI, default 144 (2x the 72dpi PDF unit)
	TessdataDir   string

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

// ConfigFrom maps application settings onto the OCR toolchain config.
func ConfigFrom(c common.OCRConfig) Config {
	return Config{
		Pdftoppm:      c.PdftoppmPath,
		Tesseract:     c.TesseractPath,
		TesseractLang: c.TesseractLang,
		DPI:           c.RenderDPI,
		TessdataDir:   c.TessdataDir,
	}
}

func (c Config) withDefaults() Config {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 144
	}
	return c
}
