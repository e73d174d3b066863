package constants

import "strings"

type DocType string

const (
	DocTypeInvoice       DocType = "invoice"
	DocTypeReceipt       DocType = "receipt"
	DocTypePurchaseOrder DocType = "purchase_order"
	DocTypeBill          DocType = "bill"
	DocTypeStatement     DocType = "statement"
	DocTypePackingSlip   DocType = "packing_slip"
	DocTypeUnknown       DocType = "unknown"
)

var allDocTypes = []DocType{
	DocTypeInvoice,
	DocTypeReceipt,
	DocTypePurchaseOrder,
	DocTypeBill,
	DocTypeStatement,
	DocTypePackingSlip,
	DocTypeUnknown,
}

func AllDocTypes() []DocType {
	out := make([]DocType, len(allDocTypes))
	copy(out, allDocTypes)
	return out
}

// ParseDocType maps a stored value back to a DocType; unknown input yields DocTypeUnknown.
func ParseDocType(s string) DocType {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, t := range allDocTypes {
		if normalized == string(t) {
			return t
		}
	}
	return DocTypeUnknown
}
