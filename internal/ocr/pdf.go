package ocr

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFInspector reads structural facts and the text layer of a PDF.
type PDFInspector interface {
	PageCount(path string) (int, error)
	// LeadingText returns up to maxChars of embedded text from the first
	// pages. Scanned PDFs yield "".
	LeadingText(path string, maxChars int) (string, error)
}

type pdfInspector struct{}

// NewPDFInspector uses pdfcpu for page counting and ledongthuc/pdf for text.
func NewPDFInspector() PDFInspector {
	return pdfInspector{}
}

func (pdfInspector) PageCount(path string) (n int, err error) {
	// pdfcpu panics on some files with a valid header and a broken body
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("read pdf: %v", r)
		}
	}()

	n, err = api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}

func (pdfInspector) LeadingText(path string, maxChars int) (text string, err error) {
	// the text decoder panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract pdf text: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract text page %d: %w", i, err)
		}
		b.WriteString(s)
		b.WriteString("\n")
		if maxChars > 0 && utf8.RuneCountInString(b.String()) >= maxChars {
			break
		}
	}
	out := strings.TrimSpace(b.String())
	if maxChars > 0 && utf8.RuneCountInString(out) > maxChars {
		out = string([]rune(out)[:maxChars])
	}
	return out, nil
}
