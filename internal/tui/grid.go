package tui

import (
	"math"
	"unicode/utf8"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/selection"
)

// cellAspect is the height of a terminal cell relative to its width.
const cellAspect = 2.0

// Grid maps terminal cells onto a page's container pixels.
type Grid struct {
	Cols, Rows   int
	CellW, CellH float64
}

// NewGrid fits a page of the given pixel size into cols columns.
func NewGrid(pageW, pageH float64, cols int) Grid {
	if cols < 1 {
		cols = 1
	}
	cw := pageW / float64(cols)
	if cw <= 0 {
		cw = 1
	}
	ch := cw * cellAspect
	rows := int(math.Ceil(pageH / ch))
	if rows < 1 {
		rows = 1
	}
	return Grid{Cols: cols, Rows: rows, CellW: cw, CellH: ch}
}

// AnchorPoint is the container point a drag starting in the cell is
// anchored at. It sits above and left of ReachPoint so a drag along one row
// still spans a non-empty rectangle.
func (g Grid) AnchorPoint(col, row int) geom.Point {
	return geom.Point{
		X: (float64(col) + 0.25) * g.CellW,
		Y: (float64(row) + 0.25) * g.CellH,
	}
}

// ReachPoint is the container point a drag reaching the cell extends to.
func (g Grid) ReachPoint(col, row int) geom.Point {
	return geom.Point{
		X: (float64(col) + 0.75) * g.CellW,
		Y: (float64(row) + 0.75) * g.CellH,
	}
}

// Cell returns the cell containing p, clamped to the grid.
func (g Grid) Cell(p geom.Point) (col, row int) {
	col = clamp(int(p.X/g.CellW), 0, g.Cols-1)
	row = clamp(int(p.Y/g.CellH), 0, g.Rows-1)
	return col, row
}

func (g Grid) cellRect(col, row int) geom.Rect {
	return geom.Rect{X: float64(col) * g.CellW, Y: float64(row) * g.CellH, Width: g.CellW, Height: g.CellH}
}

// Covered reports whether any of rects overlaps the cell.
func (g Grid) Covered(rects []geom.Rect, col, row int) bool {
	cell := g.cellRect(col, row)
	for _, r := range rects {
		if r.ForRender().Overlaps(cell) {
			return true
		}
	}
	return false
}

// Render lays runs out on the grid starting at the cell holding each run's
// top-left corner. Text past the right edge is clipped.
func (g Grid) Render(runs []selection.TextRun) [][]rune {
	lines := make([][]rune, g.Rows)
	for i := range lines {
		lines[i] = make([]rune, g.Cols)
		for j := range lines[i] {
			lines[i][j] = ' '
		}
	}
	for _, run := range runs {
		col, row := g.Cell(geom.Point{X: run.Rect.X, Y: run.Rect.Y})
		for _, r := range run.Text {
			if col >= g.Cols {
				break
			}
			if r == utf8.RuneError || r < ' ' {
				r = ' '
			}
			lines[row][col] = r
			col++
		}
	}
	return lines
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
