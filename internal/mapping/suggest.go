package mapping

import (
	"sort"
	"strings"
)

const maxSuggestions = 3

// suggest ranks canonical ids whose aliases resemble key: an equal alias
// scores 100, containment 80, character overlap above 0.6 scores 60.
func (idx *index) suggest(key string) []string {
	if idx.m == nil {
		return nil
	}
	k := normalize(key)
	if k == "" {
		return nil
	}
	type scored struct {
		canonical string
		score     int
		pos       int
	}
	best := map[string]scored{}
	for i, e := range idx.m.Entries {
		a := normalize(e.Alias)
		if a == "" {
			continue
		}
		var score int
		switch {
		case a == k:
			score = 100
		case contains(a, k):
			score = 80
		case overlap(a, k) > 0.6:
			score = 60
		default:
			continue
		}
		if cur, ok := best[e.Canonical]; !ok || score > cur.score {
			pos := i
			if ok {
				pos = cur.pos
			}
			best[e.Canonical] = scored{canonical: e.Canonical, score: score, pos: pos}
		}
	}
	list := make([]scored, 0, len(best))
	for _, s := range best {
		list = append(list, s)
	}
	sort.Slice(list, func(a, b int) bool {
		if list[a].score != list[b].score {
			return list[a].score > list[b].score
		}
		return list[a].pos < list[b].pos
	})
	if len(list) > maxSuggestions {
		list = list[:maxSuggestions]
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.canonical
	}
	return out
}

func contains(a, b string) bool {
	if len(a) < minPartialRunes || len(b) < minPartialRunes {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// overlap is the Jaccard similarity of the character sets of a and b.
func overlap(a, b string) float64 {
	sa, sb := map[rune]bool{}, map[rune]bool{}
	for _, r := range a {
		sa[r] = true
	}
	for _, r := range b {
		sb[r] = true
	}
	common := 0
	for r := range sa {
		if sb[r] {
			common++
		}
	}
	union := len(sa) + len(sb) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}
