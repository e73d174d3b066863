package extract

import (
	"fmt"
	"testing"
)

const invoiceText = `ACME Corp
INVOICE
Invoice No: INV-2024-001
Invoice Date: 01/15/2024
Due Date: 02/15/2024
Bill To: Globex
PO Number: PO-7781
Subtotal: 1,234.50
Sales Tax: 15.50
Total Amount: $150.00
Terms: Net 30
`

func byName(cs []Candidate) map[string]Candidate {
	out := make(map[string]Candidate, len(cs))
	for _, c := range cs {
		if _, ok := out[c.Name]; !ok {
			out[c.Name] = c
		}
	}
	return out
}

func TestRuleBased(t *testing.T) {
	got := byName(NewRuleBased().Extract(invoiceText))
	want := map[string]string{
		"invoice_number": "INV-2024-001",
		"po_number":      "PO-7781",
		"total_amount":   "150.00",
		"subtotal":       "1234.50",
		"tax_amount":     "15.50",
		"due_date":       "02/15/2024",
		"date":           "01/15/2024",
	}
	for name, v := range want {
		c, ok := got[name]
		if !ok {
			t.Fatalf("field %s missing; got %v", name, got)
		}
		if c.Value != v {
			t.Fatalf("%s = %q, want %q", name, c.Value, v)
		}
		if c.Confidence <= 0 || c.Confidence > 1 {
			t.Fatalf("%s confidence = %v", name, c.Confidence)
		}
		if c.Box != nil {
			t.Fatalf("%s has a box; rules do not locate values", name)
		}
	}
	if _, ok := got["terms"]; ok {
		t.Fatalf("rule-based extractor produced a generic field")
	}
}

func TestRuleBasedScenarioLines(t *testing.T) {
	got := byName(NewRuleBased().Extract("Invoice No: INV-2024-001\nTotal Amount: $150.00"))
	if got["invoice_number"].Value != "INV-2024-001" {
		t.Fatalf("invoice_number = %q", got["invoice_number"].Value)
	}
	if got["total_amount"].Value != "150.00" {
		t.Fatalf("total_amount = %q", got["total_amount"].Value)
	}
}

func TestRuleBasedNoMatches(t *testing.T) {
	if got := NewRuleBased().Extract("hello world\nnothing here"); len(got) != 0 {
		t.Fatalf("Extract = %v, want none", got)
	}
	if got := NewRuleBased().Extract(""); len(got) != 0 {
		t.Fatalf("Extract(\"\") = %v, want none", got)
	}
}

func TestKeyValue(t *testing.T) {
	got := byName(NewKeyValue().Extract(invoiceText))
	cases := map[string]string{
		"invoice_number": "INV-2024-001",
		"bill_to":        "Globex",
		"terms":          "Net 30",
		"total_amount":   "$150.00",
		"date":           "01/15/2024",
	}
	for name, v := range cases {
		if got[name].Value != v {
			t.Fatalf("%s = %q, want %q (all: %v)", name, got[name].Value, v, got)
		}
	}
}

func TestHybridPrefersRules(t *testing.T) {
	got := NewHybrid().Extract(invoiceText)
	m := byName(got)
	if m["total_amount"].Value != "150.00" {
		t.Fatalf("total_amount = %q, want rule value 150.00", m["total_amount"].Value)
	}
	if m["terms"].Value != "Net 30" {
		t.Fatalf("terms = %q, want key-value fill", m["terms"].Value)
	}
	seen := map[string]int{}
	for _, c := range got {
		seen[c.Name]++
		if seen[c.Name] > 1 {
			t.Fatalf("field %s emitted twice", c.Name)
		}
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	e := NewHybrid()
	a, b := e.Extract(invoiceText), e.Extract(invoiceText)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("candidate %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestNew(t *testing.T) {
	for engine, want := range map[string]string{
		"rule_based": "*extract.RuleBased",
		"key_value":  "*extract.KeyValue",
		"hybrid":     "*extract.Hybrid",
	} {
		e, err := New(engine)
		if err != nil {
			t.Fatalf("New(%q): %v", engine, err)
		}
		if got := typeName(e); got != want {
			t.Fatalf("New(%q) = %s, want %s", engine, got, want)
		}
	}
	if _, err := New("llm"); err == nil {
		t.Fatalf("New(llm) succeeded")
	}
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
