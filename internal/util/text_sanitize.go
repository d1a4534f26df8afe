package util

import (
	"regexp"
	"strings"
)

var (
	reSpaceRun  = regexp.MustCompile(`[ \t]+`)
	reBlankRuns = regexp.MustCompile(`\n{3,}`)
)

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (especially NUL / 0x00 from some PDF extractors).
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")

	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' || ch == '\f' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

// NormalizeOCRText sanitizes s and collapses the whitespace noise OCR engines leave
// behind. Page breaks (\f) are kept.
func NormalizeOCRText(s string) string {
	s = SanitizeText(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Trim(reSpaceRun.ReplaceAllString(line, " "), " \t")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(reBlankRuns.ReplaceAllString(s, "\n\n"))
}

// Preview returns at most n runes of s for log lines.
func Preview(s string, n int) string {
	if n <= 0 {
		n = 200
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
