// Command runocr runs OCR and field extraction on one local file and logs
// the result. Nothing is written to the store or the pipeline folders.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/extract"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <file.pdf|file.png|...>")
		os.Exit(2)
	}
	src := os.Args[1]

	_ = godotenv.Load()
	cfg, err := common.LoadConfig(os.Getenv("DOCINTAKE_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	kind, err := pipeline.DetectKind(src)
	if err != nil {
		logger.Error("unsupported file", "path", src, "error", err)
		os.Exit(1)
	}
	extractor, err := extract.New(cfg.Processing.ExtractionEngine)
	if err != nil {
		logger.Error("extractor", "error", err)
		os.Exit(1)
	}

	scratch, err := os.MkdirTemp("", "runocr-")
	if err != nil {
		logger.Error("scratch dir", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(scratch)

	ocrCfg := ocr.ConfigFrom(cfg.OCR)
	runner := ocr.NewExecRunner(logger)
	tess := ocr.NewTesseract(ocrCfg, runner, logger)

	var images []string
	if kind == constants.PDF {
		pages, err := ocr.NewPDFInspector().PageCount(src)
		if err != nil {
			logger.Error("pdf", "error", err)
			os.Exit(1)
		}
		raster := ocr.NewRasterizer(ocrCfg, runner, logger)
		for n := 1; n <= pages; n++ {
			out := filepath.Join(scratch, fmt.Sprintf("page-%04d.png", n))
			if err := raster.RenderPage(ctx, src, n, out); err != nil {
				logger.Error("render failed", "page", n, "error", err)
				os.Exit(1)
			}
			images = append(images, out)
		}
	} else {
		out := filepath.Join(scratch, "page-0001.png")
		if err := ocr.NormalizeImage(src, out); err != nil {
			logger.Error("image", "error", err)
			os.Exit(1)
		}
		images = append(images, out)
	}

	start := time.Now()
	for i, img := range images {
		rec, err := tess.Recognize(ctx, img)
		if err != nil {
			logger.Error("ocr failed", "page", i+1, "error", err)
			os.Exit(1)
		}
		text := ocr.Normalize(rec.Text)
		if i == 0 {
			logger.Info("classified", "doc_type", pipeline.ClassifyDocument(text), "kind", kind)
		}
		logger.Info("page",
			"page", i+1,
			"ocr_confidence", rec.Confidence,
			"words", len(rec.Words),
			"chars", len(text),
		)
		for _, c := range extractor.Extract(text) {
			logger.Info("field", "page", i+1, "name", c.Name, "value", c.Value, "confidence", c.Confidence)
		}
	}
	logger.Info("done", "pages", len(images), "duration_ms", time.Since(start).Milliseconds())
}
