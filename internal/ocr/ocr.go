package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"policyreader/internal/models"
	"policyreader/internal/util"
)

// minTextLayerRunes is how many letters or digits an embedded text layer needs
// before OCR is skipped.
const minTextLayerRunes = 40

type Config struct {
	Pdftoppm    string
	Tesseract   string
	Language    string
	DPI         int
	MaxPages    int
	Workers     int
	TessdataDir string
}

type Result struct {
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	Pages          int       `json:"pages"`
	Method         string    `json:"method"`
	PageConfidence []float64 `json:"page_confidence,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
}

type Extractor struct {
	cfg    Config
	runner Runner
	log    *slog.Logger

	countPages func(path string) (int, error)
	trimPages  func(in, out string, pages int) error
	textLayer  func(path string) (string, error)
}

func NewExtractor(cfg Config, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Extractor{
		cfg:        cfg,
		runner:     execRunner{log: log},
		log:        log,
		countPages: api.PageCountFile,
		trimPages:  trimFile,
		textLayer:  readTextLayer,
	}
}

// WithRunner swaps the command runner.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	cp := *e
	cp.runner = r
	return &cp
}

// ExtractText reads the policy text of the PDF at path. An unreadable file or
// a failing OCR engine is an error; a document without text is a successful
// Result with empty Text.
func (e *Extractor) ExtractText(ctx context.Context, path string) (Result, error) {
	total, err := e.countPages(path)
	if err != nil {
		return Result{}, fmt.Errorf("count pages: %w", err)
	}

	var warnings []string
	src := path
	pages := total
	if e.cfg.MaxPages > 0 && total > e.cfg.MaxPages {
		dir, err := os.MkdirTemp("", "policyreader-trim-*")
		if err != nil {
			return Result{}, err
		}
		defer os.RemoveAll(dir)
		trimmed := filepath.Join(dir, "trimmed.pdf")
		if err := e.trimPages(path, trimmed, e.cfg.MaxPages); err != nil {
			return Result{}, fmt.Errorf("trim pages: %w", err)
		}
		src = trimmed
		pages = e.cfg.MaxPages
		warnings = append(warnings, fmt.Sprintf("processed first %d of %d pages", pages, total))
	}

	if text, err := e.textLayer(src); err != nil {
		warnings = append(warnings, "text layer: "+err.Error())
	} else if text = util.NormalizeOCRText(text); meaningful(text) {
		e.log.Info("ocr.text_layer", "path", path, "pages", pages, "chars", len(text))
		return Result{
			Text:       text,
			Confidence: textLayerConfidence(text),
			Pages:      pages,
			Method:     models.MethodPDFText,
			Warnings:   warnings,
		}, nil
	}

	res, err := e.ocrPages(ctx, src, pages)
	res.Warnings = append(warnings, res.Warnings...)
	if err != nil {
		return res, err
	}
	e.log.Info("ocr.tesseract", "path", path, "pages", res.Pages, "confidence", res.Confidence, "chars", len(res.Text))
	return res, nil
}

func (e *Extractor) ocrPages(ctx context.Context, src string, pages int) (Result, error) {
	dir, err := os.MkdirTemp("", "policyreader-pages-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if pages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", pages))
	}
	args = append(args, src, prefix)
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return Result{Warnings: []string{strings.TrimSpace(string(errb))}}, fmt.Errorf("pdftoppm: %w", err)
	}

	images, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(images)
	if len(images) == 0 {
		return Result{}, fmt.Errorf("pdftoppm produced no page images")
	}

	type page struct {
		text string
		conf float64
		warn string
		err  error
	}
	out := make([]page, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, img := range images {
		g.Go(func() error {
			prepared, warn := preprocess(img)
			text, conf, err := e.tesseract(gctx, prepared)
			out[i] = page{text: text, conf: conf, warn: warn, err: err}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Method: models.MethodTesseract, Pages: len(images)}
	var texts []string
	var confSum float64
	var confN int
	failed := 0
	for i, p := range out {
		if p.warn != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %s", i+1, p.warn))
		}
		if p.err != nil {
			failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", i+1, p.err))
			res.PageConfidence = append(res.PageConfidence, 0)
			continue
		}
		res.PageConfidence = append(res.PageConfidence, p.conf)
		if strings.TrimSpace(p.text) != "" {
			texts = append(texts, p.text)
		}
		if p.conf > 0 {
			confSum += p.conf
			confN++
		}
	}
	if failed == len(out) {
		return res, fmt.Errorf("tesseract failed on every page: %v", out[0].err)
	}

	res.Text = util.NormalizeOCRText(strings.Join(texts, "\n\f\n"))
	if res.Text == "" {
		return res, nil
	}
	var tsv float64
	if confN > 0 {
		tsv = confSum / float64(confN)
	}
	res.Confidence = blend(tsv, heuristicConfidence(res.Text))
	return res, nil
}

func (e *Extractor) tesseract(ctx context.Context, img string) (string, float64, error) {
	args := []string{img, "stdout", "-l", e.cfg.Language}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", 0, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	text, conf := parseTSV(string(out))
	return text, conf, nil
}

// preprocess grayscales and sharpens a scanned page. On failure the original
// image is used and a warning returned.
func preprocess(path string) (string, string) {
	img, err := imaging.Open(path)
	if err != nil {
		return path, "preprocess skipped: " + err.Error()
	}
	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)
	out := strings.TrimSuffix(path, ".png") + "-prep.png"
	if err := imaging.Save(img, out); err != nil {
		return path, "preprocess skipped: " + err.Error()
	}
	return out, ""
}

func trimFile(in, out string, pages int) error {
	return api.TrimFile(in, out, []string{fmt.Sprintf("1-%d", pages)}, nil)
}

// readTextLayer returns the embedded text of a PDF. The parser panics on some
// malformed files, which is reported as an error.
func readTextLayer(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read text layer: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}

func meaningful(text string) bool {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
			if n >= minTextLayerRunes {
				return true
			}
		}
	}
	return false
}
