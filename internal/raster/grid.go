package raster

import (
	"github.com/rotisserie/eris"
)

// Grid is an in-memory raster. Bands are row-major slices of width*height
// values.
type Grid struct {
	width, height int
	bands         [][]float64
	transform     Affine
	crs           string
	nodata        *float64
}

// NewGrid creates an in-memory raster from one or more bands.
func NewGrid(width, height int, t Affine, crsCode string, bands ...[]float64) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("raster: invalid grid size %dx%d", width, height)
	}
	if len(bands) == 0 {
		return nil, eris.New("raster: grid needs at least one band")
	}
	for i, b := range bands {
		if len(b) != width*height {
			return nil, eris.Errorf("raster: band %d has %d values, want %d", i+1, len(b), width*height)
		}
	}
	return &Grid{width: width, height: height, bands: bands, transform: t, crs: crsCode}, nil
}

// SetNoData declares the nodata sentinel.
func (g *Grid) SetNoData(v float64) {
	g.nodata = &v
}

func (g *Grid) Width() int        { return g.width }
func (g *Grid) Height() int       { return g.height }
func (g *Grid) BandCount() int    { return len(g.bands) }
func (g *Grid) Transform() Affine { return g.transform }
func (g *Grid) CRS() string       { return g.crs }

func (g *Grid) NoData() (float64, bool) {
	if g.nodata == nil {
		return 0, false
	}
	return *g.nodata, true
}

func (g *Grid) ReadWindow(band int, w Window) (*WindowData, error) {
	if err := checkWindow(g, band, w); err != nil {
		return nil, err
	}
	vals := g.bands[band-1]
	return newWindowData(g, band, w, func(row, col int) float64 {
		return vals[row*g.width+col]
	}), nil
}
