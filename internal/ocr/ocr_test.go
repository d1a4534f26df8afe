package ocr

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"policyreader/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRunner struct {
	mu         sync.Mutex
	pages      int
	tsv        map[string]string
	failPage   string
	failRaster bool
	calls      []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()
	switch name {
	case "pdftoppm":
		if f.failRaster {
			return nil, []byte("syntax error"), errors.New("exit status 1")
		}
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			img := imaging.New(20, 20, color.White)
			if err := imaging.Save(img, fmt.Sprintf("%s-%d.png", prefix, i)); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		page := filepath.Base(args[0])
		if f.failPage != "" && strings.HasPrefix(page, f.failPage) {
			return nil, []byte("bad image"), errors.New("exit status 1")
		}
		for prefix, out := range f.tsv {
			if strings.HasPrefix(page, prefix) {
				return []byte(out), nil, nil
			}
		}
		return []byte(tsvHeader), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

const tsvHeader = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n"

func tsvLine(block, par, line, word int, conf float64, text string) string {
	return fmt.Sprintf("5\t1\t%d\t%d\t%d\t%d\t0\t0\t10\t10\t%.2f\t%s\n", block, par, line, word, conf, text)
}

func newTestExtractor(r *fakeRunner, pageCount int, layer string) *Extractor {
	e := NewExtractor(Config{MaxPages: 5, Workers: 2}, quiet).WithRunner(r)
	e.countPages = func(string) (int, error) { return pageCount, nil }
	e.trimPages = func(in, out string, pages int) error { return os.WriteFile(out, []byte("%PDF"), 0o644) }
	e.textLayer = func(string) (string, error) { return layer, nil }
	return e
}

func TestExtractTextUsesTextLayer(t *testing.T) {
	layer := "Policy No: ABC123\nInsured: Jane Doe\nPeriod: 01/07/2023 to 30/06/2024\nPremium: Rs. 12,345.00"
	r := &fakeRunner{}
	res, err := newTestExtractor(r, 2, layer).ExtractText(context.Background(), "policy.pdf")
	require.NoError(t, err)
	require.Equal(t, models.MethodPDFText, res.Method)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, 95.0, res.Confidence)
	require.Empty(t, r.calls)
}

func TestExtractTextFallsBackToTesseract(t *testing.T) {
	r := &fakeRunner{pages: 2, tsv: map[string]string{
		"page-1": tsvHeader +
			tsvLine(1, 1, 1, 1, 90, "Policy") + tsvLine(1, 1, 1, 2, 80, "No:") + tsvLine(1, 1, 1, 3, 70, "ABC123") +
			tsvLine(1, 1, 2, 1, 60, "Premium:") + tsvLine(1, 1, 2, 2, 100, "12,345"),
		"page-2": tsvHeader + tsvLine(1, 1, 1, 1, 80, "Insured") + tsvLine(1, 1, 1, 2, -1, " "),
	}}
	res, err := newTestExtractor(r, 2, "").ExtractText(context.Background(), "scan.pdf")
	require.NoError(t, err)
	require.Equal(t, models.MethodTesseract, res.Method)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, "Policy No: ABC123\nPremium: 12,345\n\f\nInsured", res.Text)
	require.Equal(t, []float64{80, 80}, res.PageConfidence)
	// 0.7*80 + 0.3*(40 + 15*2)
	require.InDelta(t, 77.0, res.Confidence, 0.001)
}

func TestExtractTextTrimsToMaxPages(t *testing.T) {
	r := &fakeRunner{pages: 5}
	res, err := newTestExtractor(r, 12, "").ExtractText(context.Background(), "long.pdf")
	require.NoError(t, err)
	require.Equal(t, 5, res.Pages)
	require.Contains(t, res.Warnings, "processed first 5 of 12 pages")
	require.Contains(t, r.calls[0], "-l 5")
	require.Contains(t, r.calls[0], "trimmed.pdf")
}

func TestExtractTextEmptyIsNotAnError(t *testing.T) {
	r := &fakeRunner{pages: 1}
	res, err := newTestExtractor(r, 1, "").ExtractText(context.Background(), "blank.pdf")
	require.NoError(t, err)
	require.Empty(t, res.Text)
	require.Zero(t, res.Confidence)
}

func TestExtractTextRasterFailureIsAnError(t *testing.T) {
	r := &fakeRunner{failRaster: true}
	_, err := newTestExtractor(r, 1, "").ExtractText(context.Background(), "broken.pdf")
	require.Error(t, err)
}

func TestExtractTextPartialPageFailure(t *testing.T) {
	r := &fakeRunner{pages: 2, failPage: "page-2", tsv: map[string]string{
		"page-1": tsvHeader + tsvLine(1, 1, 1, 1, 90, "Policy"),
	}}
	res, err := newTestExtractor(r, 2, "").ExtractText(context.Background(), "scan.pdf")
	require.NoError(t, err)
	require.Equal(t, "Policy", res.Text)
	require.NotEmpty(t, res.Warnings)

	r = &fakeRunner{pages: 1, failPage: "page-1"}
	_, err = newTestExtractor(r, 1, "").ExtractText(context.Background(), "scan.pdf")
	require.Error(t, err)
}

func TestExtractTextPageCountError(t *testing.T) {
	e := newTestExtractor(&fakeRunner{}, 0, "")
	e.countPages = func(string) (int, error) { return 0, errors.New("not a pdf") }
	_, err := e.ExtractText(context.Background(), "x.pdf")
	require.Error(t, err)
}

func TestParseTSVParagraphs(t *testing.T) {
	out := tsvHeader +
		"1\t1\t0\t0\t0\t0\t0\t0\t10\t10\t-1\t\n" +
		tsvLine(1, 1, 1, 1, 50, "A") + tsvLine(1, 1, 1, 2, 70, "B") +
		tsvLine(2, 1, 1, 1, 90, "C")
	text, conf := parseTSV(out)
	require.Equal(t, "A B\n\nC", text)
	require.InDelta(t, 70.0, conf, 0.001)
}

func TestHeuristicConfidence(t *testing.T) {
	require.Equal(t, 40.0, heuristicConfidence("zzz"))
	require.Equal(t, 100.0, heuristicConfidence("Policy premium 01/07/2023 "+strings.Repeat("x", 120)))
	require.Equal(t, 100.0, textLayerConfidence("Policy premium 01/07/2023 "+strings.Repeat("x", 120)))
}
