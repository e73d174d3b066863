package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/extract"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/repository"
	"github.com/joseph-ayodele/docintake/internal/repository/repotest"
)

const tsvHeader = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n"

// tsvLines renders each line as tesseract word rows at 90% confidence.
func tsvLines(lines ...string) string {
	var b strings.Builder
	b.WriteString(tsvHeader)
	for li, line := range lines {
		left := 10
		for wi, w := range strings.Fields(line) {
			width := 12 * len(w)
			fmt.Fprintf(&b, "5\t1\t1\t1\t%d\t%d\t%d\t%d\t%d\t20\t90\t%s\n", li+1, wi+1, left, 10+30*li, width, w)
			left += width + 8
		}
	}
	return b.String()
}

// fakeRunner stands in for pdftoppm and tesseract. Page TSV is keyed by the
// image file name.
type fakeRunner struct {
	mu        sync.Mutex
	tsv       map[string]string
	renderErr error
	rendered  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch filepath.Base(name) {
	case "pdftoppm":
		if f.renderErr != nil {
			return nil, []byte("render failed"), f.renderErr
		}
		out := args[len(args)-1] + ".png"
		f.rendered = append(f.rendered, out)
		return nil, nil, os.WriteFile(out, []byte("png"), 0o644)
	case "tesseract":
		return []byte(f.tsv[filepath.Base(args[0])]), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

type fakePDF struct {
	pages int
	text  string
}

func (f fakePDF) PageCount(string) (int, error)           { return f.pages, nil }
func (f fakePDF) LeadingText(string, int) (string, error) { return f.text, nil }

type panickingPDF struct{}

func (panickingPDF) PageCount(string) (int, error)           { panic("decoder blew up") }
func (panickingPDF) LeadingText(string, int) (string, error) { return "", nil }

type recordingObserver struct {
	mu       sync.Mutex
	statuses []constants.BatchStatus
}

func (o *recordingObserver) ObserveBatch(s constants.BatchStatus, _ time.Duration, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

type harness struct {
	cfg     *common.Config
	batches repository.BatchRepository
	docs    repository.DocumentRepository
	runner  *fakeRunner
	obs     *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := common.DefaultConfig()
	cfg.Folders = common.FolderConfig{
		Hot:        filepath.Join(root, "hot"),
		Archive:    filepath.Join(root, "archive"),
		Error:      filepath.Join(root, "error"),
		Temp:       filepath.Join(root, "tmp"),
		PageImages: filepath.Join(root, "pages"),
	}
	if err := cfg.EnsureFolders(); err != nil {
		t.Fatalf("EnsureFolders: %v", err)
	}
	drv := repotest.Open(t)
	return &harness{
		cfg:     cfg,
		batches: repository.NewBatchRepository(drv, repotest.Logger()),
		docs:    repository.NewDocumentRepository(drv, repotest.Logger()),
		runner:  &fakeRunner{tsv: map[string]string{}},
		obs:     &recordingObserver{},
	}
}

func (h *harness) processor(pdf fakePDF) *Processor {
	return h.processorWith(pdf)
}

func (h *harness) processorWith(pdfs ocr.PDFInspector) *Processor {
	logger := repotest.Logger()
	ocfg := ocr.ConfigFrom(h.cfg.OCR)
	return NewProcessor(h.cfg, h.batches, h.docs, extract.NewRuleBased(), pdfs,
		ocr.NewRasterizer(ocfg, h.runner, logger), ocr.NewTesseract(ocfg, h.runner, logger),
		logger, WithObserver(h.obs))
}

func (h *harness) addBatch(t *testing.T, path string) *entity.Batch {
	t.Helper()
	b := &entity.Batch{
		Filename:     filepath.Base(path),
		OriginalPath: path,
		ContentHash:  uuid.NewString(),
		SizeBytes:    1,
	}
	if err := h.batches.Create(context.Background(), b); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return b
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *entity.Batch {
	t.Helper()
	b, err := h.batches.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return b
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.Black)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("%s still exists (err=%v)", path, err)
	}
}

func TestProcessTwoPageInvoice(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.cfg.Folders.Hot, "invoice.pdf")
	writeFile(t, src, "%PDF-1.4\n%fake body\n")
	h.runner.tsv["page-0001.png"] = tsvLines("ACME Corp", "Invoice No: INV-2024-001")
	h.runner.tsv["page-0002.png"] = tsvLines("Total Amount: $150.00")
	b := h.addBatch(t, src)

	p := h.processor(fakePDF{pages: 2, text: "INVOICE\nInvoice No: INV-2024-001\nTotal Amount: $150.00"})
	if err := p.ProcessBatch(context.Background(), b.ID); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got := h.reload(t, b.ID)
	if got.Status != constants.BatchStatusCompleted {
		t.Fatalf("status = %s, want completed (error=%v)", got.Status, got.ErrorMessage)
	}
	if got.StartedAt == nil || got.ProcessedAt == nil || got.ProcessingTime == nil {
		t.Fatalf("timestamps not set: %+v", got)
	}
	if got.ProcessedAt.Before(*got.StartedAt) {
		t.Fatalf("processed_at %v before started_at %v", got.ProcessedAt, got.StartedAt)
	}
	archived := filepath.Join(h.cfg.Folders.Archive, "invoice.pdf")
	if got.StoredPath == nil || *got.StoredPath != archived {
		t.Fatalf("stored_path = %v, want %s", got.StoredPath, archived)
	}
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archived file: %v", err)
	}
	assertMissing(t, src)

	doc, err := h.docs.LoadAggregate(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("LoadAggregate: %v", err)
	}
	if doc.DocType != constants.DocTypeInvoice {
		t.Fatalf("doc_type = %s, want invoice", doc.DocType)
	}
	if doc.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", doc.Confidence)
	}
	if fmt.Sprint(doc.Metadata["page_count"]) != "2" || doc.Metadata["source_kind"] != "PDF" {
		t.Fatalf("metadata = %v", doc.Metadata)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	for i, pg := range doc.Pages {
		if pg.PageNumber != i+1 {
			t.Fatalf("page %d numbered %d", i, pg.PageNumber)
		}
		want := filepath.Join(PageDir(h.cfg.Folders.PageImages, b.ID), pageImageName(i+1))
		if pg.ImagePath != want {
			t.Fatalf("image_path = %q, want %q", pg.ImagePath, want)
		}
		if _, err := os.Stat(pg.ImagePath); err != nil {
			t.Fatalf("page image: %v", err)
		}
		if pg.OCRConfidence < 0.89 || pg.OCRConfidence > 0.91 {
			t.Fatalf("ocr_confidence = %v, want 0.9", pg.OCRConfidence)
		}
	}

	inv := doc.GetField("invoice_number")
	if inv == nil || inv.Value != "INV-2024-001" {
		t.Fatalf("invoice_number = %+v", inv)
	}
	if inv.Coordinates == nil || inv.Coordinates.Width == 0 {
		t.Fatalf("invoice_number not located: %+v", inv.Coordinates)
	}
	if inv.ValidationStatus != constants.ValidationUnverified {
		t.Fatalf("validation_status = %s", inv.ValidationStatus)
	}
	total := doc.GetField("total_amount")
	if total == nil || total.Value != "150.00" {
		t.Fatalf("total_amount = %+v", total)
	}
	if doc.Pages[1].Fields[0].Name != "total_amount" {
		t.Fatalf("total_amount not on page 2")
	}

	entries, _ := os.ReadDir(h.cfg.Folders.Temp)
	if len(entries) != 0 {
		t.Fatalf("temp folder not empty: %d entries", len(entries))
	}
	if len(h.obs.statuses) != 1 || h.obs.statuses[0] != constants.BatchStatusCompleted {
		t.Fatalf("observed %v", h.obs.statuses)
	}
}

func TestProcessPlainTextPDFFails(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.cfg.Folders.Hot, "fake.pdf")
	writeFile(t, src, "just some text, not a pdf at all\n")
	b := h.addBatch(t, src)

	err := h.processor(fakePDF{pages: 1}).ProcessBatch(context.Background(), b.ID)
	if !errors.Is(err, common.ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
	got := h.reload(t, b.ID)
	if got.Status != constants.BatchStatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "unsupported") {
		t.Fatalf("error_message = %v", got.ErrorMessage)
	}
	if got.ProcessedAt == nil {
		t.Fatalf("processed_at not stamped")
	}
	inError := filepath.Join(h.cfg.Folders.Error, "fake.pdf")
	if _, err := os.Stat(inError); err != nil {
		t.Fatalf("error folder copy: %v", err)
	}
	assertMissing(t, src)
	assertMissing(t, filepath.Join(h.cfg.Folders.Archive, "fake.pdf"))
	if _, err := h.docs.LoadAggregate(context.Background(), b.ID); !common.IsNotFound(err) {
		t.Fatalf("LoadAggregate err = %v, want not found", err)
	}
}

func TestProcessRenderFailure(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.cfg.Folders.Hot, "broken.pdf")
	writeFile(t, src, "%PDF-1.4\n")
	h.runner.renderErr = errors.New("exit status 1")
	b := h.addBatch(t, src)

	if err := h.processor(fakePDF{pages: 3, text: "invoice"}).ProcessBatch(context.Background(), b.ID); err == nil {
		t.Fatalf("ProcessBatch succeeded")
	}
	got := h.reload(t, b.ID)
	if got.Status != constants.BatchStatusError || !strings.Contains(*got.ErrorMessage, "render page 1") {
		t.Fatalf("batch = %s %v", got.Status, *got.ErrorMessage)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Folders.Error, "broken.pdf")); err != nil {
		t.Fatalf("error folder copy: %v", err)
	}
	if len(h.obs.statuses) != 1 || h.obs.statuses[0] != constants.BatchStatusError {
		t.Fatalf("observed %v", h.obs.statuses)
	}
}

func TestProcessImageWithArchiveCollision(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.cfg.Folders.Hot, "scan.png")
	writePNG(t, src)
	writeFile(t, filepath.Join(h.cfg.Folders.Archive, "scan.png"), "older")
	b := h.addBatch(t, src)

	if err := h.processor(fakePDF{}).ProcessBatch(context.Background(), b.ID); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got := h.reload(t, b.ID)
	want := filepath.Join(h.cfg.Folders.Archive, "scan_1.png")
	if got.StoredPath == nil || *got.StoredPath != want {
		t.Fatalf("stored_path = %v, want %s", got.StoredPath, want)
	}
	older, _ := os.ReadFile(filepath.Join(h.cfg.Folders.Archive, "scan.png"))
	if string(older) != "older" {
		t.Fatalf("existing archive file overwritten")
	}

	doc, err := h.docs.LoadAggregate(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("LoadAggregate: %v", err)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].OCRConfidence != constants.ImageOCRConfidence {
		t.Fatalf("pages = %+v", doc.Pages)
	}
	if doc.Metadata["source_kind"] != "IMAGE" || doc.DocType != constants.DocTypeUnknown {
		t.Fatalf("document = %s %v", doc.DocType, doc.Metadata)
	}
}

func TestProcessScannedPDFClassifiesFromOCR(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.cfg.Folders.Hot, "po.pdf")
	writeFile(t, src, "%PDF-1.7\n")
	h.runner.tsv["page-0001.png"] = tsvLines("PURCHASE ORDER", "PO Number: 4500012345")
	b := h.addBatch(t, src)

	if err := h.processor(fakePDF{pages: 1}).ProcessBatch(context.Background(), b.ID); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	doc, err := h.docs.LoadAggregate(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("LoadAggregate: %v", err)
	}
	if doc.DocType != constants.DocTypePurchaseOrder {
		t.Fatalf("doc_type = %s, want purchase_order", doc.DocType)
	}
	if f := doc.GetField("po_number"); f == nil || f.Value != "4500012345" {
		t.Fatalf("po_number = %+v", f)
	}
}

func TestProcessRejectsPathOutsideFolders(t *testing.T) {
	h := newHarness(t)
	outside := filepath.Join(t.TempDir(), "secret.pdf")
	writeFile(t, outside, "%PDF-1.4\n")
	b := h.addBatch(t, outside)

	err := h.processor(fakePDF{pages: 1}).ProcessBatch(context.Background(), b.ID)
	if !errors.Is(err, common.ErrPathEscape) {
		t.Fatalf("err = %v, want ErrPathEscape", err)
	}
	got := h.reload(t, b.ID)
	if got.Status != constants.BatchStatusError || got.StartedAt != nil {
		t.Fatalf("batch = %s started=%v", got.Status, got.StartedAt)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside file was touched: %v", err)
	}
}

func TestProcessMissingFile(t *testing.T) {
	h := newHarness(t)
	b := h.addBatch(t, filepath.Join(h.cfg.Folders.Hot, "gone.pdf"))

	if err := h.processor(fakePDF{pages: 1}).ProcessBatch(context.Background(), b.ID); err == nil {
		t.Fatalf("ProcessBatch succeeded")
	}
	got := h.reload(t, b.ID)
	if got.Status != constants.BatchStatusError || got.StartedAt == nil {
		t.Fatalf("batch = %s started=%v", got.Status, got.StartedAt)
	}
}

func TestProcessSkipsNonPending(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(h.cfg.Folders.Hot, "done.pdf")
	writeFile(t, src, "%PDF-1.4\n")
	b := h.addBatch(t, src)
	if err := h.batches.MarkCompleted(context.Background(), b.ID, time.Now(), time.Second); err != nil {
		t.Fatal(err)
	}

	if err := h.processor(fakePDF{pages: 1}).ProcessBatch(context.Background(), b.ID); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source moved: %v", err)
	}
	if len(h.runner.rendered) != 0 {
		t.Fatalf("rendered %d pages for a completed batch", len(h.runner.rendered))
	}
}

func TestProcessUnknownBatch(t *testing.T) {
	h := newHarness(t)
	err := h.processor(fakePDF{}).ProcessBatch(context.Background(), uuid.New())
	if !common.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

// a header that sniffs as PDF but whose body breaks pdfcpu
const brokenPDF = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"

func TestProcessMalformedPDFEndsInError(t *testing.T) {
	cases := []struct {
		name string
		pdfs ocr.PDFInspector
	}{
		{"pdfcpu", nil},
		{"panicking inspector", panickingPDF{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			src := filepath.Join(h.cfg.Folders.Hot, "bad.pdf")
			writeFile(t, src, brokenPDF)
			b := h.addBatch(t, src)

			if err := h.processorWith(tc.pdfs).ProcessBatch(context.Background(), b.ID); err == nil {
				t.Fatalf("ProcessBatch succeeded on a malformed pdf")
			}
			got := h.reload(t, b.ID)
			if got.Status != constants.BatchStatusError {
				t.Fatalf("status = %s, want error", got.Status)
			}
			if got.ErrorMessage == nil || *got.ErrorMessage == "" {
				t.Fatalf("error_message not recorded")
			}
			inError := filepath.Join(h.cfg.Folders.Error, "bad.pdf")
			if got.StoredPath == nil || *got.StoredPath != inError {
				t.Fatalf("stored_path = %v, want %s", got.StoredPath, inError)
			}
			assertMissing(t, src)
			if len(h.obs.statuses) != 1 || h.obs.statuses[0] != constants.BatchStatusError {
				t.Fatalf("observed %v", h.obs.statuses)
			}
		})
	}
}
