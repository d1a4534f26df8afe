package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"policyreader/internal/util"
)

const definitionSchema = `{
  "type": "object",
  "required": ["category", "fields"],
  "properties": {
    "category": {"type": "string", "minLength": 1},
    "fields": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["label", "id", "type"],
        "properties": {
          "label": {"type": "string"},
          "id": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "type": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}},
          "protected": {"type": "boolean"},
          "layout_only": {"type": "boolean"},
          "read_only": {"type": "boolean"},
          "section": {"type": "string"},
          "synonyms": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var definitionValidator = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("definition.json", strings.NewReader(definitionSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("definition.json")
}()

// Definition is the on-disk form of a category schema.
type Definition struct {
	Category string  `json:"category"`
	Fields   []Field `json:"fields"`
}

// Registry is the in-process schema.Source: built-in Motor and Health schemas
// plus any definitions loaded from disk. Register replaces a category wholesale.
type Registry struct {
	mu         sync.RWMutex
	categories map[string]Definition
}

func NewRegistry() *Registry {
	r := &Registry{categories: map[string]Definition{}}
	r.Register(Definition{Category: "Motor", Fields: motorFields})
	r.Register(Definition{Category: "Health", Fields: healthFields})
	return r
}

func (r *Registry) Register(def Definition) {
	fields := make([]Field, len(def.Fields))
	copy(fields, def.Fields)
	r.mu.Lock()
	r.categories[key(def.Category)] = Definition{Category: strings.TrimSpace(def.Category), Fields: fields}
	r.mu.Unlock()
}

func (r *Registry) FieldsOf(category string) ([]Field, error) {
	r.mu.RLock()
	def, ok := r.categories[key(category)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", util.ErrUnknownCategory, category)
	}
	out := make([]Field, len(def.Fields))
	copy(out, def.Fields)
	return out, nil
}

func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.categories))
	for _, d := range r.categories {
		out = append(out, d.Category)
	}
	sort.Strings(out)
	return out
}

// Fingerprint identifies the current schema version of category.
func (r *Registry) Fingerprint(category string) string {
	fields, err := r.FieldsOf(category)
	if err != nil {
		return ""
	}
	return util.Fingerprint(fields)
}

// LoadDir registers every *.json definition under dir.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var loaded []string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return loaded, fmt.Errorf("read %s: %w", p, err)
		}
		def, err := ParseDefinition(b)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		r.Register(def)
		loaded = append(loaded, def.Category)
	}
	return loaded, nil
}

func ParseDefinition(b []byte) (Definition, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return Definition{}, fmt.Errorf("unmarshal definition: %w", err)
	}
	if err := definitionValidator.Validate(raw); err != nil {
		return Definition{}, fmt.Errorf("definition does not match schema: %w", err)
	}
	var def Definition
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	for i, f := range def.Fields {
		switch f.Type {
		case TypeSectionBreak, TypeColumnBreak, TypeTabBreak:
			def.Fields[i].LayoutOnly = true
		}
	}
	return def, nil
}

func key(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
