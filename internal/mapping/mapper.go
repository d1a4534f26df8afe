package mapping

import (
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"policyreader/internal/aliases"
)

type Tier int

const (
	TierExact Tier = iota
	TierCaseInsensitive
	TierWhitespaceInsensitive
	TierPartial
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierCaseInsensitive:
		return "case-insensitive"
	case TierWhitespaceInsensitive:
		return "whitespace-insensitive"
	case TierPartial:
		return "partial"
	}
	return "unknown"
}

// minPartialRunes is the shortest normalized alias allowed to partial-match.
const minPartialRunes = 3

type Match struct {
	Key       string `json:"key"`
	Canonical string `json:"canonical"`
	Alias     string `json:"alias"`
	Tier      Tier   `json:"tier"`
}

type Result struct {
	Fields      map[string]any
	Matches     []Match
	Unmapped    []string
	Dropped     []string
	Suggestions map[string][]string
}

type Mapper struct {
	log *slog.Logger
}

func NewMapper(log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	return &Mapper{log: log}
}

// Map resolves extracted keys to canonical ids. Keys are visited in sorted
// order; when two keys land on the same canonical id the stronger tier wins,
// then the earlier key. Protected ids never appear in Fields.
func (mp *Mapper) Map(flat map[string]any, m *aliases.Map, protected map[string]bool) Result {
	res := Result{Fields: map[string]any{}, Suggestions: map[string][]string{}}
	idx := newIndex(m)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	winner := map[string]int{}
	for _, key := range keys {
		v := flat[key]
		if blank(v) {
			continue
		}
		match, ok := idx.resolve(key)
		if !ok {
			res.Unmapped = append(res.Unmapped, key)
			if s := idx.suggest(key); len(s) > 0 {
				res.Suggestions[key] = s
			}
			continue
		}
		if protected[match.Canonical] {
			mp.log.Debug("mapping.protected_dropped", "key", key, "canonical", match.Canonical)
			res.Dropped = append(res.Dropped, key)
			continue
		}
		if i, taken := winner[match.Canonical]; taken {
			prev := res.Matches[i]
			if match.Tier >= prev.Tier {
				mp.log.Debug("mapping.shadowed", "key", key, "canonical", match.Canonical, "kept", prev.Key)
				res.Unmapped = append(res.Unmapped, key)
				continue
			}
			mp.log.Debug("mapping.shadowed", "key", prev.Key, "canonical", match.Canonical, "kept", key)
			res.Unmapped = append(res.Unmapped, prev.Key)
			res.Matches[i] = match
			res.Fields[match.Canonical] = v
			continue
		}
		winner[match.Canonical] = len(res.Matches)
		res.Matches = append(res.Matches, match)
		res.Fields[match.Canonical] = v
	}
	sort.Strings(res.Unmapped)
	return res
}

type index struct {
	m        *aliases.Map
	folded   map[string]aliases.Entry
	squashed map[string]aliases.Entry
	partial  []partialAlias
}

type partialAlias struct {
	norm  string
	entry aliases.Entry
	pos   int
}

func newIndex(m *aliases.Map) *index {
	idx := &index{m: m, folded: map[string]aliases.Entry{}, squashed: map[string]aliases.Entry{}}
	if m == nil {
		return idx
	}
	for i, e := range m.Entries {
		f := strings.ToLower(e.Alias)
		if _, ok := idx.folded[f]; !ok {
			idx.folded[f] = e
		}
		n := normalize(e.Alias)
		if n == "" {
			continue
		}
		if _, ok := idx.squashed[n]; !ok {
			idx.squashed[n] = e
		}
		if utf8.RuneCountInString(n) >= minPartialRunes {
			idx.partial = append(idx.partial, partialAlias{norm: n, entry: e, pos: i})
		}
	}
	// Longest first, registration order on ties.
	sort.SliceStable(idx.partial, func(a, b int) bool {
		la, lb := utf8.RuneCountInString(idx.partial[a].norm), utf8.RuneCountInString(idx.partial[b].norm)
		if la != lb {
			return la > lb
		}
		return idx.partial[a].pos < idx.partial[b].pos
	})
	return idx
}

func (idx *index) resolve(key string) (Match, bool) {
	if c, ok := idx.m.Lookup(key); ok {
		return Match{Key: key, Canonical: c, Alias: key, Tier: TierExact}, true
	}
	k := strings.TrimSpace(key)
	if e, ok := idx.folded[strings.ToLower(k)]; ok {
		return Match{Key: key, Canonical: e.Canonical, Alias: e.Alias, Tier: TierCaseInsensitive}, true
	}
	n := normalize(k)
	if n == "" {
		return Match{}, false
	}
	if e, ok := idx.squashed[n]; ok {
		return Match{Key: key, Canonical: e.Canonical, Alias: e.Alias, Tier: TierWhitespaceInsensitive}, true
	}
	for _, p := range idx.partial {
		if strings.Contains(n, p.norm) {
			return Match{Key: key, Canonical: p.entry.Canonical, Alias: p.entry.Alias, Tier: TierPartial}, true
		}
	}
	return Match{}, false
}

// normalize lower-cases s and drops whitespace and the separators models
// use interchangeably with spaces.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case r == '_' || r == '-' || r == '.' || r == '(' || r == ')' || r == '[' || r == ']':
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}
