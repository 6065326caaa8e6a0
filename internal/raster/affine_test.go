package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placekit/placekit/internal/crs"
)

func TestAffine_CenterAndInvert(t *testing.T) {
	tr := NorthUp(1000, 5000, 10, 10)

	x, y := tr.Center(0, 0)
	assert.InDelta(t, 1005, x, 1e-9)
	assert.InDelta(t, 4995, y, 1e-9)

	x, y = tr.Center(2, 3)
	assert.InDelta(t, 1035, x, 1e-9)
	assert.InDelta(t, 4975, y, 1e-9)

	inv, err := tr.Invert()
	require.NoError(t, err)
	col, row := inv.Apply(1035, 4975)
	assert.InDelta(t, 3.5, col, 1e-9)
	assert.InDelta(t, 2.5, row, 1e-9)
}

func TestAffine_InvertSingular(t *testing.T) {
	_, err := Affine{}.Invert()
	assert.Error(t, err)
}

func TestAffine_Offset(t *testing.T) {
	tr := NorthUp(0, 100, 2, 2)
	sub := tr.Offset(3, 4)

	x, y := sub.Center(0, 0)
	wx, wy := tr.Center(4, 3)
	assert.InDelta(t, wx, x, 1e-9)
	assert.InDelta(t, wy, y, 1e-9)
}

func TestAffine_PixelSize(t *testing.T) {
	w, h := NorthUp(0, 0, 30, 25).PixelSize()
	assert.InDelta(t, 30, w, 1e-9)
	assert.InDelta(t, 25, h, 1e-9)
}

func TestFromBounds(t *testing.T) {
	tr := NorthUp(0, 100, 10, 10)

	w, err := FromBounds(crs.Bounds{MinX: 20, MinY: 50, MaxX: 50, MaxY: 80}, tr)
	require.NoError(t, err)
	assert.Equal(t, Window{ColOff: 2, RowOff: 2, Width: 3, Height: 3}, w)

	// partial pixels expand outward
	w, err = FromBounds(crs.Bounds{MinX: 25, MinY: 55, MaxX: 45, MaxY: 75}, tr)
	require.NoError(t, err)
	assert.Equal(t, Window{ColOff: 2, RowOff: 2, Width: 3, Height: 3}, w)

	// boxes off the grid produce negative offsets, not errors
	w, err = FromBounds(crs.Bounds{MinX: -30, MinY: 90, MaxX: -10, MaxY: 110}, tr)
	require.NoError(t, err)
	assert.Equal(t, -3, w.ColOff)
	assert.Equal(t, -1, w.RowOff)
}

func TestFromBounds_HugeBoxIsClamped(t *testing.T) {
	tr := NorthUp(0, 100, 10, 10)

	w, err := FromBounds(crs.Bounds{MinX: -1e300, MinY: -1e300, MaxX: 1e300, MaxY: 1e300}, tr)
	require.NoError(t, err)
	assert.Equal(t, -maxPixel, w.ColOff)
	assert.Equal(t, -maxPixel, w.RowOff)
	assert.Equal(t, Window{Width: 10, Height: 10}, w.Intersect(Window{Width: 10, Height: 10}))

	_, err = FromBounds(crs.Bounds{MinX: math.Inf(-1), MinY: math.Inf(-1), MaxX: math.Inf(1), MaxY: math.Inf(1)}, tr)
	assert.Error(t, err)
}

func TestWindow_Intersect(t *testing.T) {
	full := Window{Width: 10, Height: 10}

	assert.Equal(t, Window{ColOff: 8, RowOff: 0, Width: 2, Height: 3},
		Window{ColOff: 8, RowOff: -2, Width: 5, Height: 5}.Intersect(full))

	assert.True(t, Window{ColOff: 12, RowOff: 0, Width: 3, Height: 3}.Intersect(full).Empty())
	assert.True(t, Window{ColOff: 2, RowOff: 2, Width: 3, Height: 3}.Within(full))
	assert.False(t, Window{ColOff: 8, RowOff: 8, Width: 3, Height: 3}.Within(full))
}

func TestWindowBounds(t *testing.T) {
	tr := NorthUp(0, 100, 10, 10)
	b := WindowBounds(tr, Window{ColOff: 1, RowOff: 2, Width: 3, Height: 4})
	assert.Equal(t, crs.Bounds{MinX: 10, MinY: 40, MaxX: 40, MaxY: 80}, b)
}
