package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Rasterizer renders single PDF pages to PNG with pdftoppm.
type Rasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewRasterizer(cfg Config, runner Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Rasterizer{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// RenderPage writes 1-indexed page of pdfPath to outPath, which must end in .png.
func (r *Rasterizer) RenderPage(ctx context.Context, pdfPath string, page int, outPath string) error {
	if page < 1 {
		return fmt.Errorf("invalid page number %d", page)
	}
	if !strings.EqualFold(filepath.Ext(outPath), ".png") {
		return fmt.Errorf("output must be a .png path: %q", outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}

	// pdftoppm -r <dpi> -f N -l N -png -singlefile <in.pdf> <out-without-ext>
	prefix := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	n := strconv.Itoa(page)
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm,
		"-r", strconv.Itoa(r.cfg.DPI), "-f", n, "-l", n, "-png", "-singlefile", pdfPath, prefix)
	if err != nil {
		return fmt.Errorf("pdftoppm page %d: %w: %s", page, err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}
	r.logger.Debug("page rendered", "pdf", pdfPath, "page", page, "out", outPath)
	return nil
}
