package convert

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	DateLayout     = "02-01-2006"
	DatetimeLayout = "02-01-2006 15:04:05"
)

// Day-first layouts come before the month-first fallbacks.
var dateLayouts = []string{
	"2/1/2006", "2-1-2006", "2.1.2006",
	"2006-01-02", "2006/01/02", "2006.01.02",
	"2 Jan 2006", "2 January 2006", "2-Jan-2006", "2-January-2006", "2/Jan/2006",
	"2 Jan 06", "2-Jan-06",
	"Jan 2 2006", "January 2 2006", "Jan 2, 2006", "January 2, 2006",
	"2/1/06", "2-1-06", "2.1.06",
	"20060102",
	"1/2/2006", "1-2-2006",
}

var timeLayouts = []string{"15:04:05", "15:04", "3:04 PM", "3:04:05 PM", "3:04PM"}

var (
	reOrdinal  = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	reSpaceRun = regexp.MustCompile(`\s+`)
)

var errNoDate = errors.New("unrecognised date")

// Date normalises raw to dd-mm-yyyy. Blank input converts to nil.
func Date(raw any) (any, error) {
	s := cleanDate(text(raw))
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return t.Format(DateLayout), nil
}

// Datetime normalises raw to dd-mm-yyyy HH:MM:SS; a bare date gets midnight.
func Datetime(raw any) (any, error) {
	s := cleanDate(text(raw))
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DatetimeLayout), nil
	}
	for _, dl := range dateLayouts {
		for _, tl := range timeLayouts {
			for _, sep := range []string{" ", "T", ", "} {
				if t, err := time.Parse(dl+sep+tl, s); err == nil {
					return t.Format(DatetimeLayout), nil
				}
			}
		}
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return t.Format(DatetimeLayout), nil
}

func parseDate(s string) (time.Time, error) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	// Drop a trailing time component and retry.
	if i := strings.IndexAny(s, " T"); i > 0 {
		head := s[:i]
		for _, l := range dateLayouts {
			if t, err := time.Parse(l, head); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, errNoDate
}

func cleanDate(s string) string {
	s = strings.TrimSpace(s)
	s = reOrdinal.ReplaceAllString(s, "$1")
	s = reSpaceRun.ReplaceAllString(s, " ")
	return s
}
