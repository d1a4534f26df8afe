package aliases

import (
	"sort"
	"time"
)

// Entry binds one surface form to a canonical field id.
type Entry struct {
	Alias     string `json:"alias"`
	Canonical string `json:"canonical"`
}

// Map is an immutable alias dictionary for one category. Entries keep
// registration order, which callers use as a tie-breaker.
type Map struct {
	Category    string    `json:"category"`
	Fingerprint string    `json:"fingerprint"`
	Entries     []Entry   `json:"entries"`
	BuiltAt     time.Time `json:"built_at"`

	index map[string]int
}

// NewMap builds a Map from ordered entries. Later duplicates of an alias are ignored.
func NewMap(category, fingerprint string, entries []Entry, builtAt time.Time) *Map {
	m := &Map{
		Category:    category,
		Fingerprint: fingerprint,
		BuiltAt:     builtAt,
		index:       make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Alias == "" || e.Canonical == "" {
			continue
		}
		if _, dup := m.index[e.Alias]; dup {
			continue
		}
		m.index[e.Alias] = len(m.Entries)
		m.Entries = append(m.Entries, e)
	}
	return m
}

func Empty(category string) *Map {
	return NewMap(category, "", nil, time.Time{})
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// Lookup resolves alias by exact match.
func (m *Map) Lookup(alias string) (string, bool) {
	if m == nil {
		return "", false
	}
	i, ok := m.index[alias]
	if !ok {
		return "", false
	}
	return m.Entries[i].Canonical, true
}

// Position is the registration order of alias, or -1.
func (m *Map) Position(alias string) int {
	if m == nil {
		return -1
	}
	if i, ok := m.index[alias]; ok {
		return i
	}
	return -1
}

// Canonicals lists canonical ids in first-registration order.
func (m *Map) Canonicals() []string {
	if m == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range m.Entries {
		if !seen[e.Canonical] {
			seen[e.Canonical] = true
			out = append(out, e.Canonical)
		}
	}
	return out
}

// AliasesOf returns the sorted aliases of canonical, excluding the id itself.
func (m *Map) AliasesOf(canonical string) []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, e := range m.Entries {
		if e.Canonical == canonical && e.Alias != canonical {
			out = append(out, e.Alias)
		}
	}
	sort.Strings(out)
	return out
}
