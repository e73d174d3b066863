package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Box is a word's pixel rectangle on the page image.
type Box struct {
	Left, Top, Width, Height int
}

// Word is one recognized token.
type Word struct {
	Text       string
	Confidence float64 // 0..1
	Box        Box
}

// Recognition is the OCR result for one image.
type Recognition struct {
	Text       string
	Confidence float64 // mean word confidence, 0..1; 0 when HasTokens is false
	HasTokens  bool
	Words      []Word
}

// Tesseract runs tesseract in TSV mode, which yields text and per-word
// confidences from a single invocation.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, runner Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Tesseract{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// Recognize OCRs the image at path.
func (t *Tesseract) Recognize(ctx context.Context, path string) (Recognition, error) {
	args := []string{path, "stdout", "-l", t.cfg.TesseractLang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	// TSV output
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	rec := ParseTSV(out)
	t.logger.Debug("ocr complete", "path", path, "words", len(rec.Words), "confidence", rec.Confidence)
	return rec, nil
}

// tsv columns: level page_num block_num par_num line_num word_num left top width height conf text
const (
	colBlock = 2
	colPar   = 3
	colLine  = 4
	colLeft  = 6
	colTop   = 7
	colWidth = 8
	colHgt   = 9
	colConf  = 10
	colText  = 11
	tsvCols  = 12
)

// ParseTSV rebuilds page text from tesseract TSV output and averages the
// word confidences, normalized to 0..1. Rows with conf -1 are layout rows.
func ParseTSV(data []byte) Recognition {
	var (
		rec      Recognition
		b        strings.Builder
		sum      float64
		lastKey  [3]int
		haveLine bool
	)
	for i, ln := range strings.Split(string(data), "\n") {
		if i == 0 || len(ln) == 0 {
			continue
		} // skip header
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < tsvCols {
			continue
		}
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[colText:], "\t"))
		if text == "" {
			continue
		}

		key := [3]int{atoi(cols[colBlock]), atoi(cols[colPar]), atoi(cols[colLine])}
		switch {
		case !haveLine:
		case key[0] != lastKey[0] || key[1] != lastKey[1]:
			b.WriteString("\n\n")
		case key[2] != lastKey[2]:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
		b.WriteString(text)
		lastKey, haveLine = key, true

		rec.Words = append(rec.Words, Word{
			Text:       text,
			Confidence: conf / 100.0,
			Box: Box{
				Left:   atoi(cols[colLeft]),
				Top:    atoi(cols[colTop]),
				Width:  atoi(cols[colWidth]),
				Height: atoi(cols[colHgt]),
			},
		})
		sum += conf
	}
	rec.Text = b.String()
	if n := len(rec.Words); n > 0 {
		rec.HasTokens = true
		rec.Confidence = clamp01(sum / float64(n) / 100.0)
	}
	return rec
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
