package ocr

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reDateish     = regexp.MustCompile(`\b\d{1,2}[/\-. ](\d{1,2}|[a-z]{3,9})[/\-. ]\d{2,4}\b`)
	reCurrencyish = regexp.MustCompile(`(₹|\brs\.?|\binr\b|\bpremium\b|\bsum insured\b)`)
	rePolicyish   = regexp.MustCompile(`\b(policy|insured|vehicle|proposer|certificate)\b`)
)

// heuristicConfidence scores how much text looks like a readable policy, 0..100.
func heuristicConfidence(text string) float64 {
	return 40 + 15*float64(patternHits(text))
}

func patternHits(text string) int {
	l := strings.ToLower(text)
	hits := 0
	if reDateish.MatchString(l) {
		hits++
	}
	if reCurrencyish.MatchString(l) {
		hits++
	}
	if rePolicyish.MatchString(l) {
		hits++
	}
	if len(strings.TrimSpace(text)) > 120 {
		hits++
	}
	return hits
}

// textLayerConfidence scores an embedded text layer, which needs no recognition.
func textLayerConfidence(text string) float64 {
	return clamp(80 + 5*float64(patternHits(text)))
}

func blend(tsv, heuristic float64) float64 {
	if tsv <= 0 {
		return clamp(heuristic)
	}
	return clamp(0.7*tsv + 0.3*heuristic)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

type tsvWord struct {
	block, par, line int
	conf             float64
	text             string
}

// parseTSV rebuilds page text from tesseract TSV output and returns the mean
// word confidence (0..100, zero when no word carries a confidence).
func parseTSV(out string) (string, float64) {
	var words []tsvWord
	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || strings.TrimSpace(ln) == "" {
			continue
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		txt := strings.TrimSpace(cols[11])
		if txt == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			conf = -1
		}
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])
		words = append(words, tsvWord{block: block, par: par, line: line, conf: conf, text: txt})
	}

	var b strings.Builder
	var sum float64
	var n int
	for i, w := range words {
		if i > 0 {
			prev := words[i-1]
			switch {
			case prev.block != w.block || prev.par != w.par:
				b.WriteString("\n\n")
			case prev.line != w.line:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteString(w.text)
		if w.conf >= 0 {
			sum += w.conf
			n++
		}
	}
	if n == 0 {
		return b.String(), 0
	}
	return b.String(), sum / float64(n)
}
