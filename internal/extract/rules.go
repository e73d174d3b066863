package extract

import (
	"regexp"
	"strings"
)

type rule struct {
	name       string
	re         *regexp.Regexp
	confidence float64
	clean      func(string) string
	// skip rejects a match given the text preceding it
	skip func(before string) bool
}

var (
	reAmount = `\$?[ \t]*([\d,]*\d(?:\.\d{2})?)`
	reDecAmt = `\$?[ \t]*([\d,]*\d\.\d{2})`
	reRef    = `([A-Z0-9-]*\d[A-Z0-9-]*)`
	reDate   = `(\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{2}-\d{2})`
	reNumTag = `(?:no\.?|number|num|#)?[ \t]*[:#]?[ \t]*`
)

var defaultRules = []rule{
	{name: "invoice_number", confidence: 0.92,
		re: regexp.MustCompile(`(?i)\b(?:invoice|inv)[ \t]*` + reNumTag + reRef)},
	{name: "po_number", confidence: 0.9,
		re: regexp.MustCompile(`(?i)\b(?:p\.?[ \t]?o\.?|purchase[ \t]+order)[ \t]*` + reNumTag + reRef)},
	{name: "account_number", confidence: 0.85,
		re: regexp.MustCompile(`(?i)\baccount[ \t]+(?:no\.?|number|#)[ \t]*:?[ \t]*` + reRef)},
	{name: "total_amount", confidence: 0.95, clean: stripThousands,
		re: regexp.MustCompile(`(?i)\btotal(?:[ \t]+amount)?(?:[ \t]+due)?[ \t]*:?[ \t]*` + reAmount)},
	{name: "subtotal", confidence: 0.9, clean: stripThousands,
		re: regexp.MustCompile(`(?i)\bsub[ \t-]?total[ \t]*:?[ \t]*` + reAmount)},
	{name: "tax_amount", confidence: 0.85, clean: stripThousands,
		re: regexp.MustCompile(`(?i)\b(?:sales[ \t]+)?(?:tax|vat)(?:[ \t]+amount)?[ \t]*:?[ \t]*` + reDecAmt)},
	{name: "due_date", confidence: 0.88,
		re: regexp.MustCompile(`(?i)\bdue[ \t]+date[ \t]*:?[ \t]*` + reDate)},
	{name: "date", confidence: 0.88, skip: endsWithDue,
		re: regexp.MustCompile(`(?i)\b(?:date|issued)[ \t]*:?[ \t]*` + reDate)},
}

// RuleBased matches a fixed set of labelled patterns. Each field takes the
// first acceptable match in the text.
type RuleBased struct {
	rules []rule
}

func NewRuleBased() *RuleBased {
	return &RuleBased{rules: defaultRules}
}

func (r *RuleBased) Extract(text string) []Candidate {
	var out []Candidate
	for _, ru := range r.rules {
		for _, m := range ru.re.FindAllStringSubmatchIndex(text, -1) {
			if ru.skip != nil && ru.skip(text[:m[0]]) {
				continue
			}
			v := strings.TrimSpace(text[m[2]:m[3]])
			if ru.clean != nil {
				v = ru.clean(v)
			}
			if v == "" {
				continue
			}
			out = append(out, Candidate{Name: ru.name, Value: v, Confidence: ru.confidence})
			break
		}
	}
	return out
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func endsWithDue(before string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimRight(before, " \t")), "due")
}
