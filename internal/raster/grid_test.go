package raster

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqBand(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestNewGrid_Validation(t *testing.T) {
	_, err := NewGrid(0, 3, NorthUp(0, 0, 1, 1), "EPSG:3338", seqBand(0))
	assert.Error(t, err)

	_, err = NewGrid(2, 2, NorthUp(0, 0, 1, 1), "EPSG:3338")
	assert.Error(t, err)

	_, err = NewGrid(2, 2, NorthUp(0, 0, 1, 1), "EPSG:3338", seqBand(3))
	assert.Error(t, err)
}

func TestGrid_ReadWindow(t *testing.T) {
	g, err := NewGrid(4, 3, NorthUp(100, 300, 10, 10), "EPSG:3338", seqBand(12), seqBand(12))
	require.NoError(t, err)
	g.SetNoData(255)

	d, err := g.ReadWindow(2, Window{ColOff: 1, RowOff: 1, Width: 2, Height: 2})
	require.NoError(t, err)

	assert.Equal(t, []float64{5, 6, 9, 10}, d.Values)
	assert.Equal(t, 2, d.Band)
	assert.Equal(t, "EPSG:3338", d.CRS)
	require.NotNil(t, d.NoData)
	assert.Equal(t, 255.0, *d.NoData)
	assert.True(t, d.IsNoData(255))
	assert.Equal(t, 9.0, d.At(1, 0))

	x, y := d.Transform.Center(0, 0)
	assert.InDelta(t, 115, x, 1e-9)
	assert.InDelta(t, 285, y, 1e-9)
}

func TestGrid_ReadWindowErrors(t *testing.T) {
	g, err := NewGrid(4, 3, NorthUp(0, 0, 1, 1), "", seqBand(12))
	require.NoError(t, err)

	_, err = g.ReadWindow(2, Window{Width: 1, Height: 1})
	assert.True(t, errors.Is(err, ErrRasterRead))

	_, err = g.ReadWindow(1, Window{ColOff: 3, RowOff: 0, Width: 2, Height: 1})
	assert.True(t, errors.Is(err, ErrRasterRead))

	_, err = g.ReadWindow(1, Window{})
	assert.True(t, errors.Is(err, ErrRasterRead))
}

func TestBounds(t *testing.T) {
	g, err := NewGrid(4, 3, NorthUp(100, 300, 10, 10), "EPSG:3338", seqBand(12))
	require.NoError(t, err)

	b := Bounds(g)
	assert.Equal(t, 100.0, b.MinX)
	assert.Equal(t, 140.0, b.MaxX)
	assert.Equal(t, 270.0, b.MinY)
	assert.Equal(t, 300.0, b.MaxY)
}
