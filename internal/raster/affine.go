package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Affine maps grid positions to CRS coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp returns the transform of an unrotated grid whose upper-left
// corner sits at (originX, originY).
func NorthUp(originX, originY, pixelW, pixelH float64) Affine {
	return Affine{A: pixelW, C: originX, E: -pixelH, F: originY}
}

// Apply maps a fractional (col, row) position to CRS coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Center returns the coordinates of the center of pixel (row, col).
func (t Affine) Center(row, col int) (x, y float64) {
	return t.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Invert returns the transform mapping CRS coordinates back to (col, row).
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if math.Abs(det) < 1e-15 {
		return Affine{}, eris.New("raster: affine transform is not invertible")
	}
	inv := Affine{
		A: t.E / det,
		B: -t.B / det,
		D: -t.D / det,
		E: t.A / det,
	}
	inv.C = -(inv.A*t.C + inv.B*t.F)
	inv.F = -(inv.D*t.C + inv.E*t.F)
	return inv, nil
}

// Offset returns the transform of a sub-grid whose first pixel is
// (rowOff, colOff) of the receiver's grid.
func (t Affine) Offset(colOff, rowOff int) Affine {
	x, y := t.Apply(float64(colOff), float64(rowOff))
	out := t
	out.C, out.F = x, y
	return out
}

// PixelSize returns the absolute pixel width and height.
func (t Affine) PixelSize() (w, h float64) {
	return math.Hypot(t.A, t.D), math.Hypot(t.B, t.E)
}
