package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Strategy string

const (
	DirectParse      Strategy = "DirectParse"
	FencedBlockParse Strategy = "FencedBlockParse"
	BraceSpanParse   Strategy = "BraceSpanParse"
	Unparsable       Strategy = "Unparsable"
)

// Result of Extract. Failed distinguishes "response unparsable" from a
// response that parsed to an empty object.
type Result struct {
	Fields   map[string]any
	Strategy Strategy
	Failed   bool
	Attempts []string
}

const flatObjectSchema = `{
  "type": "object",
  "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
}`

var flatObject = jsonschema.MustCompileString("flat.json", flatObjectSchema)

var reFence = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \\t]*\\r?\\n?(.*?)```")

var errEmptyObject = errors.New("empty object")

type strategy struct {
	name Strategy
	run  func(raw string) (map[string]any, error)
}

var chain = []strategy{
	{DirectParse, func(raw string) (map[string]any, error) { return decodeFlat(raw) }},
	{FencedBlockParse, parseFenced},
	{BraceSpanParse, parseBraceSpan},
}

// Extract turns a free-form model response into a flat key/value map. The
// strategies run in order and the first non-empty flat object wins.
func Extract(raw string) Result {
	res := Result{Fields: map[string]any{}, Strategy: Unparsable}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if raw == "" {
		res.Failed = true
		res.Attempts = append(res.Attempts, "input: empty response")
		return res
	}

	var emptyBy Strategy
	for _, s := range chain {
		fields, err := s.run(raw)
		switch {
		case err == nil:
			res.Fields = fields
			res.Strategy = s.name
			res.Attempts = append(res.Attempts, string(s.name)+": ok")
			return res
		case errors.Is(err, errEmptyObject):
			if emptyBy == "" {
				emptyBy = s.name
			}
			res.Attempts = append(res.Attempts, string(s.name)+": empty object")
		default:
			res.Attempts = append(res.Attempts, fmt.Sprintf("%s: %v", s.name, err))
		}
	}
	if emptyBy != "" {
		res.Strategy = emptyBy
		return res
	}
	res.Failed = true
	return res
}

func parseFenced(raw string) (map[string]any, error) {
	matches := reFence.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		if !strings.HasPrefix(raw, "```") {
			return nil, errors.New("no fenced block")
		}
		return decodeFlat(stripCodeFence(raw))
	}
	var firstErr error
	for _, m := range matches {
		fields, err := decodeFlat(m[1])
		if err == nil {
			return fields, nil
		}
		if firstErr == nil || errors.Is(firstErr, errEmptyObject) {
			firstErr = err
		}
	}
	return nil, firstErr
}

// stripCodeFence handles an opening fence whose closing fence was cut off.
func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func parseBraceSpan(raw string) (map[string]any, error) {
	if openBrackets(raw[:max(strings.IndexByte(raw, '{'), 0)]) > 0 {
		return nil, errors.New("brace span is an array element")
	}
	span, ok := firstBraceSpan(raw)
	if !ok {
		return nil, errors.New("no balanced brace span")
	}
	return decodeFlat(span)
}

// openBrackets counts the '[' in prefix that are still unclosed at its end.
func openBrackets(prefix string) int {
	depth := 0
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}

// firstBraceSpan returns the outermost balanced {...} starting at the first
// '{'. Braces inside JSON strings are ignored.
func firstBraceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeFlat(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty input")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after json value")
	}
	if err := flatObject.Validate(v); err != nil {
		return nil, fmt.Errorf("not a flat object: %w", err)
	}
	obj := v.(map[string]any)
	if len(obj) == 0 {
		return nil, errEmptyObject
	}
	return obj, nil
}
