package prompts

import (
	"fmt"
	"strings"

	"policyreader/internal/aliases"
	"policyreader/internal/schema"
	"policyreader/internal/util"
)

const (
	Placeholder = "{{POLICY_TEXT}}"

	// TextBegin and TextEnd delimit the policy text inside a rendered prompt.
	TextBegin = "<<<POLICY TEXT BEGIN>>>"
	TextEnd   = "<<<POLICY TEXT END>>>"

	truncatedMarker  = "\n... [truncated]"
	maxAliasesShown  = 5
	flatJSONReminder = "RESPOND WITH VALID FLAT JSON ONLY - NO EXPLANATIONS, NO MARKDOWN, NO CODE BLOCKS."
)

var sectionOrder = []string{"Policy", "Insured", "Vehicle", "Coverage", "Financial", "Dates", "Other"}

const extractionRules = `EXTRACTION RULES:
1. Return ONLY valid flat JSON (no nested objects, no arrays)
2. Use exact field names as keys (from the fields list)
3. Dates: DD/MM/YYYY format only
4. Currency/Amounts: numeric value only, remove currency symbols and commas
5. Text: exact text as it appears
6. If a field is not found, use null
7. No explanations, no markdown, no code blocks`

// Template is an extraction instruction with exactly one placeholder for the
// policy text. Head and Tail never change when the template is rendered.
// SchemaFingerprint is the alias map version the template was built from.
type Template struct {
	Category          string `json:"category"`
	Head              string `json:"head"`
	Tail              string `json:"tail"`
	Fingerprint       string `json:"fingerprint"`
	SchemaFingerprint string `json:"schema_fingerprint,omitempty"`
	Static            bool   `json:"static,omitempty"`
}

// Text is the stored form with the placeholder in place.
func (t Template) Text() string {
	return t.Head + Placeholder + t.Tail
}

// Render substitutes text for the placeholder.
func (t Template) Render(text string) string {
	var b strings.Builder
	b.Grow(len(t.Head) + len(text) + len(t.Tail) + len(TextBegin) + len(TextEnd) + 2)
	b.WriteString(t.Head)
	b.WriteString(TextBegin)
	b.WriteByte('\n')
	b.WriteString(text)
	b.WriteByte('\n')
	b.WriteString(TextEnd)
	b.WriteString(t.Tail)
	return b.String()
}

// ParseTemplate splits a stored template around its single placeholder.
func ParseTemplate(category, text, schemaFingerprint string) (Template, error) {
	if strings.Count(text, Placeholder) != 1 {
		return Template{}, fmt.Errorf("template for %s must contain exactly one %s", category, Placeholder)
	}
	head, tail, _ := strings.Cut(text, Placeholder)
	return Template{
		Category:          category,
		Head:              head,
		Tail:              tail,
		Fingerprint:       util.Fingerprint([]string{schemaFingerprint, head, tail}),
		SchemaFingerprint: schemaFingerprint,
	}, nil
}

// ExtractPolicyText returns the text between the policy delimiters of a rendered prompt.
func ExtractPolicyText(prompt string) (string, bool) {
	_, rest, ok := strings.Cut(prompt, TextBegin)
	if !ok {
		return "", false
	}
	body, _, ok := strings.Cut(rest, TextEnd)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(body), true
}

// Build assembles the dynamic template for category from its schema and alias map.
func Build(category string, fields []schema.Field, m *aliases.Map) Template {
	bySection := map[string][]schema.Field{}
	for _, f := range fields {
		if !f.Extractable() {
			continue
		}
		s := f.Section
		if !validSection(s) {
			s = "Other"
		}
		bySection[s] = append(bySection[s], f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Extract the following fields from the %s insurance policy text as a flat JSON object.\n\n", strings.ToLower(category))
	b.WriteString("REQUIRED FIELDS TO EXTRACT:\n")
	for _, s := range sectionOrder {
		group := bySection[s]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n", s)
		for _, f := range group {
			fmt.Fprintf(&b, "- %s (%s)", f.ID, f.Label)
			if f.Type == schema.TypeSelect && len(f.Options) > 0 {
				fmt.Fprintf(&b, " one of: %s", strings.Join(f.Options, ", "))
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nFIELD ALIASES (look for these variations):\n")
	lines := 0
	for _, id := range m.Canonicals() {
		list := m.AliasesOf(id)
		if len(list) == 0 {
			continue
		}
		shown := list
		if len(shown) > maxAliasesShown {
			shown = shown[:maxAliasesShown]
		}
		line := strings.Join(shown, ", ")
		if extra := len(list) - len(shown); extra > 0 {
			line += fmt.Sprintf(" (and %d more)", extra)
		}
		fmt.Fprintf(&b, "- %s: %s\n", id, line)
		lines++
	}
	if lines == 0 {
		b.WriteString("No aliases defined\n")
	}

	b.WriteString("\n")
	b.WriteString(extractionRules)
	b.WriteString("\n\nPOLICY TEXT:\n")

	t := Template{
		Category:          category,
		Head:              b.String(),
		Tail:              "\n\n" + flatJSONReminder,
		SchemaFingerprint: m.Fingerprint,
	}
	t.Fingerprint = util.Fingerprint([]string{m.Fingerprint, t.Head, t.Tail})
	return t
}

// Fallback returns the static template used when the schema is unavailable.
func Fallback(category string) Template {
	var head string
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "motor":
		head = "Extract motor insurance policy information as FLAT JSON:\n" +
			"PolicyNumber, VehicleNumber, ChasisNo, EngineNo, Make, Model, PolicyStartDate, PolicyExpiryDate, SumInsured, NetODPremium, TPPremium, GST, NCB\n\n"
	case "health":
		head = "Extract health insurance policy information as FLAT JSON:\n" +
			"PolicyNumber, InsuredName, PolicyStartDate, PolicyExpiryDate, SumInsured, Premium, GST, NCB\n\n"
	default:
		head = fmt.Sprintf("Extract key information from this %s insurance policy as FLAT JSON.\n\n", category)
	}
	head += extractionRules + "\n\nPOLICY TEXT:\n"
	return Template{
		Category: category,
		Head:     head,
		Tail:     "\n\n" + flatJSONReminder,
		Static:   true,
	}
}

func validSection(s string) bool {
	for _, x := range sectionOrder {
		if x == s {
			return true
		}
	}
	return false
}
