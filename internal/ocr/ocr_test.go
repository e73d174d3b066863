package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t1000\t1000\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t80\t20\t90\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t95\t10\t40\t20\t80\tNo:\n" +
	"5\t1\t1\t1\t1\t3\t140\t10\t120\t20\t70\tINV-2024-001\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t60\t20\t60\tTotal\n" +
	"5\t1\t2\t1\t1\t1\t10\t400\t60\t20\t100\tThanks\n" +
	"5\t1\t2\t1\t1\t2\t10\t400\t60\t20\t-1\t \n"

func TestParseTSV(t *testing.T) {
	rec := ParseTSV([]byte(sampleTSV))
	want := "Invoice No: INV-2024-001\nTotal\n\nThanks"
	if rec.Text != want {
		t.Fatalf("Text = %q, want %q", rec.Text, want)
	}
	if len(rec.Words) != 5 || !rec.HasTokens {
		t.Fatalf("words = %d, want 5", len(rec.Words))
	}
	if got, want := rec.Confidence, 0.8; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("Confidence = %v, want %v", got, want)
	}
	if b := rec.Words[2].Box; b.Left != 140 || b.Width != 120 {
		t.Fatalf("box = %+v", b)
	}
}

func TestParseTSVEmpty(t *testing.T) {
	rec := ParseTSV([]byte("level\tpage_num\n"))
	if rec.HasTokens || rec.Confidence != 0 || rec.Text != "" {
		t.Fatalf("rec = %+v, want empty", rec)
	}
}

type scriptedRunner struct {
	calls [][]string
	run   func(name string, args []string) ([]byte, []byte, error)
}

func (s *scriptedRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.run(name, args)
}

func TestTesseractRecognize(t *testing.T) {
	r := &scriptedRunner{run: func(string, []string) ([]byte, []byte, error) {
		return []byte(sampleTSV), nil, nil
	}}
	tess := NewTesseract(Config{TessdataDir: "/td"}, r, nil)
	rec, err := tess.Recognize(context.Background(), "/pages/p1.png")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !strings.HasPrefix(rec.Text, "Invoice No:") {
		t.Fatalf("Text = %q", rec.Text)
	}
	got := strings.Join(r.calls[0], " ")
	want := "tesseract /pages/p1.png stdout -l eng --tessdata-dir /td tsv"
	if got != want {
		t.Fatalf("command = %q, want %q", got, want)
	}

	r.run = func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("bad image"), errors.New("exit status 1")
	}
	if _, err := tess.Recognize(context.Background(), "/x.png"); err == nil || !strings.Contains(err.Error(), "bad image") {
		t.Fatalf("err = %v, want stderr in message", err)
	}
}

func TestRasterizerRenderPage(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "b1", "page-0002.png")
	r := &scriptedRunner{run: func(name string, args []string) ([]byte, []byte, error) {
		prefix := args[len(args)-1]
		return nil, nil, os.WriteFile(prefix+".png", []byte("png"), 0o644)
	}}
	ras := NewRasterizer(Config{}, r, nil)
	if err := ras.RenderPage(context.Background(), "/in.pdf", 2, out); err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	got := strings.Join(r.calls[0], " ")
	want := "pdftoppm -r 144 -f 2 -l 2 -png -singlefile /in.pdf " + strings.TrimSuffix(out, ".png")
	if got != want {
		t.Fatalf("command = %q, want %q", got, want)
	}

	silent := &scriptedRunner{run: func(string, []string) ([]byte, []byte, error) { return nil, nil, nil }}
	if err := NewRasterizer(Config{}, silent, nil).RenderPage(context.Background(), "/in.pdf", 1, filepath.Join(dir, "none.png")); err == nil {
		t.Fatalf("RenderPage without output succeeded")
	}
}

func TestNormalizeImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dst := filepath.Join(dir, "pages", "page-0001.png")
	if err := NormalizeImage(src, dst); err != nil {
		t.Fatalf("NormalizeImage: %v", err)
	}
	out, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	cfg, err := png.DecodeConfig(out)
	if err != nil {
		t.Fatalf("output is not png: %v", err)
	}
	if cfg.Width != 4 || cfg.Height != 3 {
		t.Fatalf("size = %dx%d, want 4x3", cfg.Width, cfg.Height)
	}

	if err := NormalizeImage(filepath.Join(dir, "missing.png"), dst); err == nil {
		t.Fatalf("NormalizeImage of missing file succeeded")
	}
}

func TestNormalize(t *testing.T) {
	in := "Invoice\t\tNo:  INV-1  \r\n-----\r\n\n\n\nTotal: 05/01/2024"
	want := "Invoice No: INV-1\n\nTotal: 05/01/2024"
	if got := Normalize(in); got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestPDFInspectorMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	body := "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := NewPDFInspector().PageCount(path); err == nil {
		t.Fatalf("PageCount = %d, want error", n)
	}
}
