package pipeline

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
)

// leadingTextChars bounds how much embedded PDF text feeds classification.
const leadingTextChars = 2000

var docTypeKeywords = []struct {
	docType  constants.DocType
	keywords []string
}{
	{constants.DocTypeInvoice, []string{"invoice", "bill to", "due date", "total due"}},
	{constants.DocTypePurchaseOrder, []string{"purchase order", "po number", "order date"}},
	{constants.DocTypePackingSlip, []string{"packing slip", "packing list", "shipped to", "tracking"}},
	{constants.DocTypeReceipt, []string{"receipt", "thank you for your purchase", "change due"}},
	{constants.DocTypeStatement, []string{"statement of account", "statement period", "opening balance"}},
	{constants.DocTypeBill, []string{"billing period", "amount due", "account summary"}},
}

// ClassifyDocument picks a document type by keyword. The first type with a
// matching keyword wins; no match is DocTypeUnknown.
func ClassifyDocument(text string) constants.DocType {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return constants.DocTypeUnknown
	}
	for _, entry := range docTypeKeywords {
		for _, k := range entry.keywords {
			if strings.Contains(lower, k) {
				return entry.docType
			}
		}
	}
	return constants.DocTypeUnknown
}

var imageTypes = []string{"image/png", "image/jpeg", "image/tiff", "image/bmp", "image/gif"}

// DetectKind sniffs the file content. The extension plays no part.
func DetectKind(path string) (constants.SourceKind, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if m.Is("application/pdf") {
		return constants.PDF, nil
	}
	for _, t := range imageTypes {
		if m.Is(t) {
			return constants.IMAGE, nil
		}
	}
	return "", common.NewAppError("UNSUPPORTED_TYPE",
		fmt.Sprintf("unsupported content type %s", m.String()), common.ErrUnsupportedType)
}
