package selection

import "github.com/user/folio/internal/geom"

type Cursor string

const (
	CursorDefault   Cursor = "default"
	CursorCrosshair Cursor = "crosshair"
	CursorPointer   Cursor = "pointer"
)

// OverlayFrame is what a renderer draws above the page.
type OverlayFrame struct {
	Rects  []geom.Rect `json:"rects"`
	Cursor Cursor      `json:"cursor"`
}

// Overlay maps selection state to render rectangles and a cursor hint.
func Overlay(rects []geom.Rect, selecting, hasSelection bool) OverlayFrame {
	frame := OverlayFrame{Cursor: CursorDefault}
	switch {
	case selecting:
		frame.Cursor = CursorCrosshair
	case hasSelection:
		frame.Cursor = CursorPointer
	}
	if len(rects) > 0 {
		frame.Rects = make([]geom.Rect, len(rects))
		for i, r := range rects {
			frame.Rects[i] = r.ForRender()
		}
	}
	return frame
}
