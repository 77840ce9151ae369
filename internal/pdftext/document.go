// Package pdftext resolves positioned text runs from PDF pages.
package pdftext

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/patrickmn/go-cache"

	"github.com/user/folio/internal/selection"
)

// DefaultScale renders one PDF point as one container pixel.
const DefaultScale = 1.0

// Resolved pages stay cached for runExpiry after their last resolution.
const (
	runExpiry       = 30 * time.Minute
	runCleanupEvery = 10 * time.Minute
)

// Document is an open PDF whose pages are resolved to text runs on demand.
type Document struct {
	path   string
	scale  float64
	file   *os.File
	reader *pdf.Reader
	runs   *cache.Cache

	// mu serializes reader access; the pdf package is not safe for
	// concurrent use.
	mu sync.Mutex
}

var _ selection.RunProvider = (*Document)(nil)

// Open opens the PDF at path. scale is container pixels per PDF point; a
// non-positive value means DefaultScale.
func Open(path string, scale float64) (*Document, error) {
	if scale <= 0 {
		scale = DefaultScale
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &Document{
		path:   path,
		scale:  scale,
		file:   f,
		reader: r,
		runs:   cache.New(runExpiry, runCleanupEvery),
	}, nil
}

func (d *Document) Close() error {
	return d.file.Close()
}

func (d *Document) Path() string { return d.path }

func (d *Document) NumPages() int {
	return d.reader.NumPage()
}

// PageSize returns the rendered size of a 1-based page in container pixels.
func (d *Document) PageSize(page int) (width, height float64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.page(page)
	if err != nil {
		return 0, 0, err
	}
	box := mediaBox(p.V)
	return box.Width() * d.scale, box.Height() * d.scale, nil
}

// RunsForPage implements selection.RunProvider.
func (d *Document) RunsForPage(ctx context.Context, page int) ([]selection.TextRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strconv.Itoa(page)
	if runs, ok := d.runs.Get(key); ok {
		return runs.([]selection.TextRun), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.page(page)
	if err != nil {
		return nil, err
	}
	glyphs, err := pageGlyphs(p)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	runs := GroupRuns(glyphs, mediaBox(p.V), d.scale)
	d.runs.Set(key, runs, cache.DefaultExpiration)
	return runs, nil
}

// PlainText returns the document's text without layout.
func (d *Document) PlainText() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, err := d.reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, content); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func (d *Document) page(n int) (pdf.Page, error) {
	if n < 1 || n > d.reader.NumPage() {
		return pdf.Page{}, fmt.Errorf("page %d out of range 1..%d", n, d.reader.NumPage())
	}
	p := d.reader.Page(n)
	if p.V.IsNull() {
		return pdf.Page{}, fmt.Errorf("page %d not found", n)
	}
	return p, nil
}

// pageGlyphs reads the content stream. The pdf package panics on some
// malformed streams.
func pageGlyphs(p pdf.Page) (glyphs []Glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read content stream: %v", r)
		}
	}()
	for _, t := range p.Content().Text {
		glyphs = append(glyphs, Glyph{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	return glyphs, nil
}

// mediaBox resolves the page MediaBox, following the inheritable Parent chain.
func mediaBox(v pdf.Value) Box {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		mb := node.Key("MediaBox")
		if mb.Len() == 4 {
			return Box{
				LLX: mb.Index(0).Float64(),
				LLY: mb.Index(1).Float64(),
				URX: mb.Index(2).Float64(),
				URY: mb.Index(3).Float64(),
			}
		}
	}
	return LetterBox
}
