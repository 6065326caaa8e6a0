package raster

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/placekit/placekit/internal/crs"
)

// Window is a rectangular block of pixels within a raster grid.
type Window struct {
	ColOff int `json:"col_off"`
	RowOff int `json:"row_off"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// Intersect returns the overlap of two windows; the result is Empty when
// they do not overlap.
func (w Window) Intersect(o Window) Window {
	c0 := max(w.ColOff, o.ColOff)
	r0 := max(w.RowOff, o.RowOff)
	c1 := min(w.ColOff+w.Width, o.ColOff+o.Width)
	r1 := min(w.RowOff+w.Height, o.RowOff+o.Height)
	if c1 <= c0 || r1 <= r0 {
		return Window{ColOff: c0, RowOff: r0}
	}
	return Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}
}

// Within reports whether w lies entirely inside o.
func (w Window) Within(o Window) bool {
	return w.ColOff >= o.ColOff && w.RowOff >= o.RowOff &&
		w.ColOff+w.Width <= o.ColOff+o.Width &&
		w.RowOff+w.Height <= o.RowOff+o.Height
}

// maxPixel bounds pixel offsets so that windows built from very large
// boxes still convert to int without overflow.
const maxPixel = 1 << 40

// FromBounds returns the smallest pixel window of grid t that covers the
// box b. The window is not clipped to any raster extent, but its edges are
// clamped to ±maxPixel.
func FromBounds(b crs.Bounds, t Affine) (Window, error) {
	inv, err := t.Invert()
	if err != nil {
		return Window{}, err
	}

	minCol, minRow := math.Inf(1), math.Inf(1)
	maxCol, maxRow := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{
		{b.MinX, b.MinY}, {b.MinX, b.MaxY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY},
	} {
		col, row := inv.Apply(p[0], p[1])
		minCol, maxCol = math.Min(minCol, col), math.Max(maxCol, col)
		minRow, maxRow = math.Min(minRow, row), math.Max(maxRow, row)
	}

	if math.IsNaN(minCol) || math.IsNaN(minRow) || math.IsNaN(maxCol) || math.IsNaN(maxRow) {
		return Window{}, eris.Errorf("raster: bounds %+v do not map to pixels", b)
	}

	const eps = 1e-9
	c0 := clampPixel(math.Floor(minCol + eps))
	r0 := clampPixel(math.Floor(minRow + eps))
	c1 := clampPixel(math.Ceil(maxCol - eps))
	r1 := clampPixel(math.Ceil(maxRow - eps))
	return Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}, nil
}

func clampPixel(v float64) int {
	return int(math.Max(-maxPixel, math.Min(maxPixel, v)))
}

// Extent returns the window spanning the whole of src.
func Extent(src Source) Window {
	return Window{Width: src.Width(), Height: src.Height()}
}

// Bounds returns the envelope of src in its own CRS.
func Bounds(src Source) crs.Bounds {
	return WindowBounds(src.Transform(), Extent(src))
}

// WindowBounds returns the envelope of window w of grid t.
func WindowBounds(t Affine, w Window) crs.Bounds {
	out := crs.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, p := range [][2]int{
		{w.ColOff, w.RowOff}, {w.ColOff + w.Width, w.RowOff},
		{w.ColOff, w.RowOff + w.Height}, {w.ColOff + w.Width, w.RowOff + w.Height},
	} {
		x, y := t.Apply(float64(p[0]), float64(p[1]))
		out.MinX, out.MaxX = math.Min(out.MinX, x), math.Max(out.MaxX, x)
		out.MinY, out.MaxY = math.Min(out.MinY, y), math.Max(out.MaxY, y)
	}
	return out
}
