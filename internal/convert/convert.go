package convert

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"policyreader/internal/models"
	"policyreader/internal/schema"
)

type Result struct {
	Values      map[string]any
	Diagnostics []models.ConversionIssue
}

type Converter struct {
	log *slog.Logger
}

func NewConverter(log *slog.Logger) *Converter {
	if log == nil {
		log = slog.Default()
	}
	return &Converter{log: log}
}

// Convert types every mapped value against its field definition. A value that
// cannot be converted is left out of Values and reported in Diagnostics.
func (c *Converter) Convert(fields map[string]any, types map[string]schema.Field) Result {
	res := Result{Values: map[string]any{}}

	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		raw := fields[id]
		f, ok := types[id]
		if !ok {
			res.Diagnostics = append(res.Diagnostics, issue(id, "", raw, "field is not in the current schema"))
			continue
		}
		v, err := c.value(f, raw)
		if err != nil {
			c.log.Debug("convert.failed", "field", id, "type", f.Type, "error", err)
			res.Diagnostics = append(res.Diagnostics, issue(id, string(f.Type), raw, err.Error()))
			continue
		}
		if v == nil {
			continue
		}
		res.Values[id] = v
	}
	return res
}

func (c *Converter) value(f schema.Field, raw any) (any, error) {
	switch f.Type {
	case schema.TypeDate:
		return Date(raw)
	case schema.TypeDatetime:
		return Datetime(raw)
	case schema.TypeCurrency:
		return Currency(raw)
	case schema.TypeFloat:
		return Float(raw)
	case schema.TypeInt:
		return Int(raw)
	case schema.TypeCheck:
		return Check(raw)
	case schema.TypeSelect:
		return Select(raw, f.Options)
	default:
		s := strings.TrimSpace(text(raw))
		if s == "" {
			return nil, nil
		}
		return s, nil
	}
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return fmt.Sprintf("%v", x)
	default:
		return fmt.Sprint(x)
	}
}

func issue(id, typ string, raw any, msg string) models.ConversionIssue {
	return models.ConversionIssue{Field: id, Type: typ, Input: text(raw), Message: msg}
}
