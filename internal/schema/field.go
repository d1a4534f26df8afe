package schema

import "strings"

type FieldType string

const (
	TypeData      FieldType = "Data"
	TypeText      FieldType = "Text"
	TypeSmallText FieldType = "Small Text"
	TypeLongText  FieldType = "Long Text"
	TypeDate      FieldType = "Date"
	TypeDatetime  FieldType = "Datetime"
	TypeCurrency  FieldType = "Currency"
	TypeFloat     FieldType = "Float"
	TypeInt       FieldType = "Int"
	TypeCheck     FieldType = "Check"
	TypeSelect    FieldType = "Select"

	TypeSectionBreak FieldType = "Section Break"
	TypeColumnBreak  FieldType = "Column Break"
	TypeTabBreak     FieldType = "Tab Break"
)

// Field is one entry of a category's target record schema.
type Field struct {
	Label      string    `json:"label"`
	ID         string    `json:"id"`
	Type       FieldType `json:"type"`
	Options    []string  `json:"options,omitempty"`
	Protected  bool      `json:"protected,omitempty"`
	LayoutOnly bool      `json:"layout_only,omitempty"`
	ReadOnly   bool      `json:"read_only,omitempty"`
	Section    string    `json:"section,omitempty"`
	Synonyms   []string  `json:"synonyms,omitempty"`
}

// Extractable reports whether values for f may come from AI extraction.
func (f Field) Extractable() bool {
	if f.Protected || f.LayoutOnly || f.ReadOnly {
		return false
	}
	switch f.Type {
	case TypeSectionBreak, TypeColumnBreak, TypeTabBreak:
		return false
	}
	return strings.TrimSpace(f.ID) != ""
}

// Source introspects the target schema of a category.
type Source interface {
	FieldsOf(category string) ([]Field, error)
}

// ProtectedIDs returns the canonical ids of the protected fields in fields.
func ProtectedIDs(fields []Field) map[string]bool {
	out := map[string]bool{}
	for _, f := range fields {
		if f.Protected {
			out[f.ID] = true
		}
	}
	return out
}

// TypesOf indexes fields by canonical id.
func TypesOf(fields []Field) map[string]Field {
	out := make(map[string]Field, len(fields))
	for _, f := range fields {
		if f.ID != "" {
			out[f.ID] = f
		}
	}
	return out
}
