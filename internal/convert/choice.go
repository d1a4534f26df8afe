package convert

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	affirmative = map[string]bool{"yes": true, "true": true, "y": true, "1": true, "on": true}
	negative    = map[string]bool{"no": true, "false": true, "n": true, "0": true, "off": true}
)

func Check(raw any) (any, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case json.Number:
		raw = x.String()
	}
	s := strings.ToLower(strings.TrimSpace(text(raw)))
	switch {
	case s == "":
		return nil, nil
	case affirmative[s]:
		return true, nil
	case negative[s]:
		return false, nil
	}
	return nil, fmt.Errorf("%q is not a yes/no value", s)
}

// minPartialRunes is the shortest text allowed to match by containment.
const minPartialRunes = 3

// Select resolves raw against options: exact, then case-insensitive, then
// partial containment in either direction. The first option that matches wins.
func Select(raw any, options []string) (any, error) {
	v := strings.TrimSpace(text(raw))
	if v == "" {
		return nil, nil
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("field has no options")
	}
	for _, o := range options {
		if o == v {
			return o, nil
		}
	}
	lv := strings.ToLower(v)
	for _, o := range options {
		if strings.ToLower(o) == lv {
			return o, nil
		}
	}
	valueFits := utf8.RuneCountInString(lv) >= minPartialRunes
	for _, o := range options {
		lo := strings.ToLower(strings.TrimSpace(o))
		if utf8.RuneCountInString(lo) >= minPartialRunes && strings.Contains(lv, lo) {
			return o, nil
		}
		if valueFits && strings.Contains(lo, lv) {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%q matches none of %s", v, strings.Join(options, ", "))
}
