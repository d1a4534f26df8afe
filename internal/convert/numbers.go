package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// reToken finds digit runs with their separators; reNumber accepts the
// grouped forms a policy schedule prints: 12345, 12,345 and 1,00,000.
var (
	reToken  = regexp.MustCompile(`-?\d[\d.,]*\d|-?\d`)
	reNumber = regexp.MustCompile(`^-?(?:\d+|\d{1,3}(?:,\d{3})+|\d{1,2}(?:,\d{2})*,\d{3})(?:\.\d+)?$`)
)

var (
	errNoDigits      = errors.New("no digits in value")
	errManyNumbers   = errors.New("value holds more than one number")
	errNumberGrouped = errors.New("unrecognised digit grouping")
)

// numeric reads the single number in raw. Currency symbols and codes,
// thousands separators and unit words around it are ignored; a value with a
// second number, or with separators in an unknown layout, is rejected.
func numeric(raw any) (string, error) {
	switch x := raw.(type) {
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	s := strings.TrimSpace(text(raw))
	spans := reToken.FindAllStringIndex(s, -1)
	switch len(spans) {
	case 0:
		return "", errNoDigits
	case 1:
	default:
		return "", fmt.Errorf("%w: %q", errManyNumbers, s)
	}
	tok := s[spans[0][0]:spans[0][1]]
	// A dash glued to a word is a hyphen, not a sign.
	if tok[0] == '-' && spans[0][0] > 0 && isWordByte(s[spans[0][0]-1]) {
		tok = tok[1:]
	}
	if !reNumber.MatchString(tok) {
		return "", fmt.Errorf("%w: %q", errNumberGrouped, tok)
	}
	return strings.ReplaceAll(tok, ",", ""), nil
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// Currency converts raw to a decimal rounded to two places.
func Currency(raw any) (any, error) {
	if blankValue(raw) {
		return nil, nil
	}
	s, err := numeric(raw)
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Round(2), nil
}

func Float(raw any) (any, error) {
	if blankValue(raw) {
		return nil, nil
	}
	s, err := numeric(raw)
	if err != nil {
		return nil, err
	}
	return strconv.ParseFloat(s, 64)
}

// Int keeps the integer part of the number in raw.
func Int(raw any) (any, error) {
	if blankValue(raw) {
		return nil, nil
	}
	s, err := numeric(raw)
	if err != nil {
		return nil, err
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "-" {
		return nil, errNoDigits
	}
	return strconv.ParseInt(s, 10, 64)
}

func blankValue(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
