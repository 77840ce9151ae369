package pdftext

import (
	"math"
	"strings"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/selection"
)

// Glyph is a positioned string as emitted by a page content stream, in PDF
// user space (origin bottom-left, y up).
type Glyph struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

// Box is a page box in PDF user space.
type Box struct {
	LLX, LLY, URX, URY float64
}

func (b Box) Width() float64  { return b.URX - b.LLX }
func (b Box) Height() float64 { return b.URY - b.LLY }

// LetterBox is US Letter, used when a page carries no MediaBox.
var LetterBox = Box{URX: 612, URY: 792}

// ToContainer maps a glyph box into container pixels for a page rendered at
// scale pixels per point.
func (b Box) ToContainer(x, y, w, fontSize, scale float64) geom.Rect {
	return geom.Rect{
		X:      (x - b.LLX) * scale,
		Y:      (b.URY - y - fontSize) * scale,
		Width:  w * scale,
		Height: fontSize * scale,
	}
}

// GroupRuns joins consecutive glyphs into word runs. A run breaks on
// whitespace, on a baseline change, and on a horizontal gap wider than a
// fraction of the font size. Runs keep content-stream order.
func GroupRuns(glyphs []Glyph, box Box, scale float64) []selection.TextRun {
	var (
		runs []selection.TextRun
		text strings.Builder
		x0   float64
		x1   float64
		y    float64
		size float64
		open bool
	)

	flush := func() {
		if !open {
			return
		}
		open = false
		s := strings.TrimSpace(text.String())
		text.Reset()
		if s == "" {
			return
		}
		runs = append(runs, selection.TextRun{
			Rect: box.ToContainer(x0, y, x1-x0, size, scale),
			Text: s,
		})
	}

	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			flush()
			continue
		}
		if open {
			sameLine := math.Abs(g.Y-y) <= math.Max(size, g.FontSize)*0.5
			gap := g.X - x1
			if !sameLine || gap > math.Max(size, g.FontSize)*0.25 || gap < -size {
				flush()
			}
		}
		if !open {
			open = true
			x0, x1, y, size = g.X, g.X, g.Y, g.FontSize
		}
		text.WriteString(g.S)
		x1 = math.Max(x1, g.X+g.W)
		size = math.Max(size, g.FontSize)
	}
	flush()
	return runs
}
