// Package raster reads rectangular windows of gridded rasters together with
// the affine transform that places each window in its CRS.
package raster

import (
	"github.com/rotisserie/eris"
)

// ErrRasterRead is returned when a window cannot be read, either because it
// lies outside the raster or because the raster data is unusable.
var ErrRasterRead = eris.New("raster: window not readable")

// Source is a read-only gridded raster. Implementations must allow
// concurrent ReadWindow calls.
type Source interface {
	Width() int
	Height() int
	BandCount() int
	// Transform maps full-grid (col, row) to CRS coordinates.
	Transform() Affine
	// CRS is the declared coordinate reference system code, or "" if unknown.
	CRS() string
	// NoData returns the nodata sentinel, if the raster declares one.
	NoData() (float64, bool)
	// ReadWindow returns the values of one band (1-based) within w. The
	// window must lie inside the raster extent.
	ReadWindow(band int, w Window) (*WindowData, error)
}

// WindowData is one band of a window read from a Source.
type WindowData struct {
	Window    Window    `json:"window"`
	Band      int       `json:"band"`
	Values    []float64 `json:"-"` // row-major, Width*Height
	Transform Affine    `json:"transform"`
	NoData    *float64  `json:"nodata,omitempty"`
	CRS       string    `json:"crs"`
}

// At returns the value at (row, col) relative to the window.
func (d *WindowData) At(row, col int) float64 {
	return d.Values[row*d.Window.Width+col]
}

// IsNoData reports whether v equals the window's nodata sentinel.
func (d *WindowData) IsNoData(v float64) bool {
	return d.NoData != nil && v == *d.NoData
}

// checkWindow validates a read request against a source's extent and bands.
func checkWindow(src Source, band int, w Window) error {
	if band < 1 || band > src.BandCount() {
		return eris.Wrapf(ErrRasterRead, "raster: band %d out of range 1..%d", band, src.BandCount())
	}
	if w.Empty() {
		return eris.Wrapf(ErrRasterRead, "raster: empty window %+v", w)
	}
	if !w.Within(Extent(src)) {
		return eris.Wrapf(ErrRasterRead, "raster: window %+v outside %dx%d raster", w, src.Width(), src.Height())
	}
	return nil
}

// newWindowData allocates the result of a read, filling values with fn.
func newWindowData(src Source, band int, w Window, fn func(row, col int) float64) *WindowData {
	vals := make([]float64, w.Width*w.Height)
	for r := 0; r < w.Height; r++ {
		for c := 0; c < w.Width; c++ {
			vals[r*w.Width+c] = fn(w.RowOff+r, w.ColOff+c)
		}
	}

	return windowData(src, band, w, vals)
}

// windowData wraps values already read for window w.
func windowData(src Source, band int, w Window, vals []float64) *WindowData {
	d := &WindowData{
		Window:    w,
		Band:      band,
		Values:    vals,
		Transform: src.Transform().Offset(w.ColOff, w.RowOff),
		CRS:       src.CRS(),
	}
	if nd, ok := src.NoData(); ok {
		d.NoData = &nd
	}
	return d
}
