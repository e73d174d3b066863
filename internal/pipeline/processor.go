// Package pipeline runs one batch from Pending to a terminal state:
// classify, render and OCR pages, extract fields, persist, relocate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/extract"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

// PageRenderer rasterizes one PDF page to a PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, page int, outPath string) error
}

// Recognizer OCRs one page image.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (ocr.Recognition, error)
}

// Observer receives one call per batch that reached a terminal state.
type Observer interface {
	ObserveBatch(status constants.BatchStatus, elapsed time.Duration, pages int)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(constants.BatchStatus, time.Duration, int) {}

// Processor is the per-batch document pipeline. It is safe for concurrent
// use by dispatcher workers as long as each batch id runs on one worker.
type Processor struct {
	cfg        *common.Config
	batches    repository.BatchRepository
	documents  repository.DocumentRepository
	extractor  extract.Extractor
	pdfs       ocr.PDFInspector
	renderer   PageRenderer
	recognizer Recognizer
	obs        Observer
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Processor)

// WithObserver reports terminal outcomes, typically into metrics.
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.obs = o
		}
	}
}

func NewProcessor(
	cfg *common.Config,
	batches repository.BatchRepository,
	documents repository.DocumentRepository,
	extractor extract.Extractor,
	pdfs ocr.PDFInspector,
	renderer PageRenderer,
	recognizer Recognizer,
	logger *slog.Logger,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if pdfs == nil {
		pdfs = ocr.NewPDFInspector()
	}
	p := &Processor{
		cfg:        cfg,
		batches:    batches,
		documents:  documents,
		extractor:  extractor,
		pdfs:       pdfs,
		renderer:   renderer,
		recognizer: recognizer,
		obs:        nopObserver{},
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageDir is where the page images of a batch are kept.
func PageDir(root string, batchID uuid.UUID) string {
	return filepath.Join(root, batchID.String())
}

func pageImageName(n int) string {
	return fmt.Sprintf("page-%04d.png", n)
}

// ProcessBatch runs batch id to Completed or Error. A batch that is not
// Pending is left alone. The returned error is the failure recorded on the
// batch; it has already been persisted and logged.
func (p *Processor) ProcessBatch(ctx context.Context, id uuid.UUID) error {
	ctx = common.WithBatchID(ctx, id)
	logger := common.LoggerFromContext(ctx, p.logger)

	b, err := p.batches.GetByID(ctx, id)
	if err != nil {
		logger.Error("batch lookup failed", "error", err)
		return fmt.Errorf("load batch: %w", err)
	}
	logger = logger.With("filename", b.Filename)
	if b.Status != constants.BatchStatusPending {
		logger.Info("batch is not pending; skipping", "status", b.Status)
		return nil
	}

	src, err := guardPath(b.SourcePath(), p.cfg.Folders.Hot, p.cfg.Folders.Archive, p.cfg.Folders.Error)
	if err != nil {
		// the file is outside our folders, so it is not ours to move
		logger.Error("source path rejected", "path", b.SourcePath(), "error", err)
		p.markError(ctx, logger, id, err)
		p.obs.ObserveBatch(constants.BatchStatusError, 0, 0)
		return err
	}

	started := p.now()
	if err := p.batches.MarkProcessing(ctx, id, started); err != nil {
		if common.IsConflict(err) {
			logger.Info("batch claimed elsewhere; skipping")
			return nil
		}
		logger.Error("failed to start batch", "error", err)
		return fmt.Errorf("mark processing: %w", err)
	}
	logger.Info("processing started", "path", src)

	pages, err := p.processRecovered(ctx, logger, b, src)
	if err == nil {
		finished := p.now()
		elapsed := finished.Sub(started)
		if err = p.batches.MarkCompleted(context.WithoutCancel(ctx), id, finished, elapsed); err == nil {
			logger.Info("processing completed", "pages", pages, "elapsed", elapsed)
			p.relocate(ctx, logger, id, src, p.cfg.Folders.Archive)
			p.obs.ObserveBatch(constants.BatchStatusCompleted, elapsed, pages)
			return nil
		}
	}

	logger.Error("processing failed", "pages_done", pages, "error", err)
	p.markError(ctx, logger, id, err)
	p.relocate(ctx, logger, id, src, p.cfg.Folders.Error)
	p.obs.ObserveBatch(constants.BatchStatusError, p.now().Sub(started), pages)
	return err
}

// processRecovered runs process and turns a panic from a decoder or
// extractor into an ordinary failure, so the batch still ends in Error.
func (p *Processor) processRecovered(ctx context.Context, logger *slog.Logger, b *entity.Batch, src string) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("processing panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("processing panicked: %v", r)
		}
	}()
	return p.process(ctx, logger, b, src)
}

// process covers everything between the Processing transition and the
// terminal write. It returns the number of pages persisted.
func (p *Processor) process(ctx context.Context, logger *slog.Logger, b *entity.Batch, src string) (int, error) {
	if _, err := os.Stat(src); err != nil {
		return 0, fmt.Errorf("source file: %w", err)
	}
	kind, err := DetectKind(src)
	if err != nil {
		return 0, err
	}

	// an interrupted earlier run may have left rows and images behind
	if err := p.documents.DeleteByBatch(ctx, b.ID); err != nil {
		return 0, err
	}
	pageDir := PageDir(p.cfg.Folders.PageImages, b.ID)
	if err := os.RemoveAll(pageDir); err != nil {
		return 0, fmt.Errorf("clear page images: %w", err)
	}
	if err := os.MkdirAll(pageDir, 0o755); err != nil {
		return 0, fmt.Errorf("create page dir: %w", err)
	}

	logger.Debug("content classified", "kind", kind)
	if kind == constants.PDF {
		return p.processPDF(ctx, logger, b, src, pageDir)
	}
	return p.processImage(ctx, logger, b, src, pageDir)
}

func (p *Processor) processPDF(ctx context.Context, logger *slog.Logger, b *entity.Batch, src, pageDir string) (int, error) {
	count, err := p.pdfs.PageCount(src)
	if err != nil {
		return 0, err
	}
	leading, err := p.pdfs.LeadingText(src, leadingTextChars)
	if err != nil {
		logger.Warn("pdf text layer unreadable; classifying from OCR", "error", err)
		leading = ""
	}
	hasTextLayer := strings.TrimSpace(leading) != ""

	doc := &entity.Document{
		BatchID: b.ID,
		DocType: ClassifyDocument(leading),
		Metadata: map[string]any{
			"page_count":  count,
			"source_kind": string(constants.PDF),
			"title":       b.Filename,
		},
	}
	if err := p.documents.CreateDocument(ctx, doc); err != nil {
		return 0, err
	}

	for n := 1; n <= count; n++ {
		scratch := filepath.Join(p.cfg.Folders.Temp, fmt.Sprintf("%s-%s", b.ID, pageImageName(n)))
		if err := p.renderer.RenderPage(ctx, src, n, scratch); err != nil {
			return n - 1, fmt.Errorf("render page %d: %w", n, err)
		}
		imagePath := filepath.Join(pageDir, pageImageName(n))
		if err := moveFile(scratch, imagePath); err != nil {
			return n - 1, fmt.Errorf("store page %d image: %w", n, err)
		}
		rec, err := p.recognizer.Recognize(ctx, imagePath)
		if err != nil {
			return n - 1, fmt.Errorf("ocr page %d: %w", n, err)
		}
		if err := p.savePage(ctx, doc.ID, n, imagePath, rec, 0); err != nil {
			return n - 1, err
		}
		logger.Debug("page stored", "page", n, "of", count, "ocr_confidence", rec.Confidence)

		if n == 1 && !hasTextLayer {
			if t := ClassifyDocument(rec.Text); t != doc.DocType {
				if err := p.documents.UpdateDocumentType(ctx, doc.ID, t, doc.Confidence); err != nil {
					return n, err
				}
				doc.DocType = t
			}
		}
	}
	return count, nil
}

func (p *Processor) processImage(ctx context.Context, logger *slog.Logger, b *entity.Batch, src, pageDir string) (int, error) {
	imagePath := filepath.Join(pageDir, pageImageName(1))
	if err := ocr.NormalizeImage(src, imagePath); err != nil {
		return 0, err
	}
	rec, err := p.recognizer.Recognize(ctx, imagePath)
	if err != nil {
		return 0, fmt.Errorf("ocr image: %w", err)
	}

	doc := &entity.Document{
		BatchID: b.ID,
		DocType: ClassifyDocument(rec.Text),
		Metadata: map[string]any{
			"page_count":  1,
			"source_kind": string(constants.IMAGE),
			"title":       b.Filename,
		},
	}
	if err := p.documents.CreateDocument(ctx, doc); err != nil {
		return 0, err
	}
	if err := p.savePage(ctx, doc.ID, 1, imagePath, rec, constants.ImageOCRConfidence); err != nil {
		return 0, err
	}
	logger.Debug("image stored", "ocr_confidence", rec.Confidence, "has_tokens", rec.HasTokens)
	return 1, nil
}

// savePage persists one page with its extracted fields. fallbackConf is used
// when OCR reported no token confidences.
func (p *Processor) savePage(ctx context.Context, docID uuid.UUID, n int, imagePath string, rec ocr.Recognition, fallbackConf float64) error {
	conf := rec.Confidence
	if !rec.HasTokens {
		conf = fallbackConf
	}
	processed := ocr.Normalize(rec.Text)
	page := &entity.Page{
		DocumentID:    docID,
		PageNumber:    n,
		ImagePath:     imagePath,
		OriginalText:  strings.TrimSpace(rec.Text),
		ProcessedText: processed,
		OCRConfidence: conf,
	}
	for _, c := range p.extractor.Extract(processed) {
		box := c.Box
		if box == nil {
			box = locate(rec.Words, c.Value)
		}
		page.Fields = append(page.Fields, &entity.Field{
			Name:        c.Name,
			Value:       c.Value,
			Confidence:  c.Confidence,
			Coordinates: box,
		})
	}
	return p.documents.CreatePageWithFields(ctx, page)
}

// locate finds the OCR word carrying value. Values spanning several words,
// or not found at all, get an empty box.
func locate(words []ocr.Word, value string) *entity.BoundingBox {
	for _, w := range words {
		t := strings.Trim(w.Text, "$:;,")
		if t == value || strings.ReplaceAll(t, ",", "") == value {
			return &entity.BoundingBox{
				X:      float64(w.Box.Left),
				Y:      float64(w.Box.Top),
				Width:  float64(w.Box.Width),
				Height: float64(w.Box.Height),
			}
		}
	}
	return &entity.BoundingBox{}
}

func (p *Processor) markError(ctx context.Context, logger *slog.Logger, id uuid.UUID, cause error) {
	if err := p.batches.MarkError(context.WithoutCancel(ctx), id, cause.Error(), p.now()); err != nil {
		logger.Error("failed to record batch error", "error", err)
	}
}

// relocate moves the source into dir and records where it went. Failures
// are logged only; the batch status already reflects the outcome.
func (p *Processor) relocate(ctx context.Context, logger *slog.Logger, id uuid.UUID, src, dir string) {
	dst, err := Relocate(src, dir)
	if err != nil {
		logger.Error("failed to relocate source file", "path", src, "folder", dir, "error", err)
		return
	}
	if err := p.batches.SetStoredPath(context.WithoutCancel(ctx), id, dst); err != nil {
		logger.Error("failed to record stored path", "path", dst, "error", err)
		return
	}
	if dst != src {
		logger.Info("source file relocated", "from", src, "to", dst)
	}
}
