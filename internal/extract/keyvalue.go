package extract

import (
	"regexp"
	"strings"
)

const keyValueConfidence = 0.6

var (
	reKVLine   = regexp.MustCompile(`^[ \t]*([A-Za-z][A-Za-z0-9 #./&()'-]{0,48}?)[ \t]*:[ \t]*(\S.*?)[ \t]*$`)
	reNonIdent = regexp.MustCompile(`[^a-z0-9]+`)
)

// labelAliases folds common label spellings onto rule-based field names.
var labelAliases = map[string]string{
	"invoice_no":     "invoice_number",
	"invoice":        "invoice_number",
	"inv_no":         "invoice_number",
	"po_no":          "po_number",
	"p_o_number":     "po_number",
	"purchase_order": "po_number",
	"total":          "total_amount",
	"total_due":      "total_amount",
	"amount_due":     "total_amount",
	"account_no":     "account_number",
	"invoice_date":   "date",
}

// KeyValue reads generic "Label: value" lines. Every label becomes a field
// name in snake_case; the first occurrence of a name wins.
type KeyValue struct{}

func NewKeyValue() *KeyValue { return &KeyValue{} }

func (KeyValue) Extract(text string) []Candidate {
	seen := map[string]struct{}{}
	var out []Candidate
	for _, line := range strings.Split(text, "\n") {
		m := reKVLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := fieldName(m[1])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, Candidate{Name: name, Value: m[2], Confidence: keyValueConfidence})
	}
	return out
}

func fieldName(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, "#", " number ")
	s = strings.Trim(reNonIdent.ReplaceAllString(s, "_"), "_")
	if alias, ok := labelAliases[s]; ok {
		return alias
	}
	return s
}

// Hybrid runs the rules first and fills in any other labelled values.
type Hybrid struct {
	rules *RuleBased
	kv    *KeyValue
}

func NewHybrid() *Hybrid {
	return &Hybrid{rules: NewRuleBased(), kv: NewKeyValue()}
}

func (h *Hybrid) Extract(text string) []Candidate {
	out := h.rules.Extract(text)
	have := make(map[string]struct{}, len(out))
	for _, c := range out {
		have[c.Name] = struct{}{}
	}
	for _, c := range h.kv.Extract(text) {
		if _, ok := have[c.Name]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
