// Package geom defines the coordinate model shared by selection capture and
// overlay rendering. All values are pixel offsets relative to the scrollable
// page-rendering container, never the viewport or native PDF space.
package geom

import "math"

// minRenderEdge is the smallest edge drawn for a rectangle so thin drags stay visible.
const minRenderEdge = 2

// Point is a container-relative pixel offset.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle with non-negative width and height.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToContainer translates a client-space point into container space by
// subtracting the container's current bounding-rect origin.
func ToContainer(client, origin Point) Point {
	return Point{X: client.X - origin.X, Y: client.Y - origin.Y}
}

// FromCorners returns the rectangle spanned by two points regardless of the
// order in which they were given.
func FromCorners(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

func (r Rect) Left() float64   { return r.X }
func (r Rect) Top() float64    { return r.Y }
func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Overlaps reports whether r and o share a nonzero area. The test uses open
// intervals on both axes, so rectangles that only touch along an edge do not
// overlap.
func (r Rect) Overlaps(o Rect) bool {
	return o.Left() < r.Right() &&
		o.Right() > r.Left() &&
		o.Top() < r.Bottom() &&
		o.Bottom() > r.Top()
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left() && p.X <= r.Right() && p.Y >= r.Top() && p.Y <= r.Bottom()
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	return FromCorners(
		Point{X: math.Min(r.Left(), o.Left()), Y: math.Min(r.Top(), o.Top())},
		Point{X: math.Max(r.Right(), o.Right()), Y: math.Max(r.Bottom(), o.Bottom())},
	)
}

// Scale multiplies every component by f.
func (r Rect) Scale(f float64) Rect {
	return Rect{X: r.X * f, Y: r.Y * f, Width: r.Width * f, Height: r.Height * f}
}

// ForRender returns a copy with width and height clamped to the minimum
// visible edge. Only overlays call this; selection geometry stays exact.
func (r Rect) ForRender() Rect {
	out := r
	if out.Width < minRenderEdge {
		out.Width = minRenderEdge
	}
	if out.Height < minRenderEdge {
		out.Height = minRenderEdge
	}
	return out
}
