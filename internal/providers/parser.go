package providers

import (
	"fmt"
	"strings"
)

// ProviderRef is one entry of the provider list, written as
// name[:keyAlias][@model]. The model pins that entry to a model other than
// the vendor default.
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
	Model    string
}

var knownProviders = map[string]bool{
	"mock":      true,
	"openai":    true,
	"groq":      true,
	"anthropic": true,
	"gemini":    true,
	"ollama":    true,
}

// ParseProviderList reads a "|"-separated provider list. Blank entries are
// skipped. An unknown vendor, an empty pinned model, or the same vendor and
// key alias listed twice is an error.
func ParseProviderList(raw string) ([]ProviderRef, error) {
	var out []ProviderRef
	seen := map[string]string{}
	for _, p := range strings.Split(raw, "|") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ref, err := parseRef(p)
		if err != nil {
			return nil, err
		}
		id := ref.Name + ":" + strings.ToLower(ref.KeyAlias)
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("provider %q duplicates %q", p, prev)
		}
		seen[id] = p
		out = append(out, ref)
	}
	return out, nil
}

func parseRef(p string) (ProviderRef, error) {
	ref := ProviderRef{Raw: p}
	spec, model, pinned := strings.Cut(p, "@")
	if pinned {
		ref.Model = strings.TrimSpace(model)
		if ref.Model == "" {
			return ProviderRef{}, fmt.Errorf("provider %q: empty model after @", p)
		}
	}
	name, alias, _ := strings.Cut(spec, ":")
	ref.Name = strings.ToLower(strings.TrimSpace(name))
	ref.KeyAlias = strings.TrimSpace(alias)
	if !knownProviders[ref.Name] {
		return ProviderRef{}, fmt.Errorf("unsupported provider %q in %q", name, p)
	}
	return ref, nil
}
