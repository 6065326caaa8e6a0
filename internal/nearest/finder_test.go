package nearest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/raster"
)

const albers = "EPSG:3338"

// landGrid returns a width x height single-band grid of zeros with 1 km
// pixels whose top-left corner is (0, height km), with the given cells
// (row, col) set to 1.
func landGrid(t *testing.T, width, height int, water ...[2]int) *raster.Grid {
	t.Helper()
	band := make([]float64, width*height)
	for _, rc := range water {
		band[rc[0]*width+rc[1]] = 1
	}
	g, err := raster.NewGrid(width, height, raster.NorthUp(0, float64(height)*1000, 1000, 1000), albers, band)
	require.NoError(t, err)
	return g
}

func projectedConfig(k int) SearchConfig {
	cfg := DefaultSearchConfig()
	cfg.K = k
	cfg.Accepted = []float64{1}
	cfg.HalfSizeM = 2500
	cfg.QueryCRS = albers
	return cfg
}

// at places a query directly in the search CRS.
func at(id string, x, y float64) model.Location {
	return model.Location{ID: id, Name: id, Longitude: x, Latitude: y}
}

func newReprojector() *crs.Reprojector {
	return crs.NewReprojector(crs.NewRegistry(nil))
}

// countingSource records how many windows were read.
type countingSource struct {
	raster.Source
	reads atomic.Int64
}

func (c *countingSource) ReadWindow(band int, w raster.Window) (*raster.WindowData, error) {
	c.reads.Add(1)
	return c.Source.ReadWindow(band, w)
}

func TestFindNeighbors_SingleWaterCell(t *testing.T) {
	// query at the center of the middle cell, water two cells to the right
	g := landGrid(t, 5, 5, [2]int{2, 4})
	f := NewFinder(g, newReprojector())

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), projectedConfig(1))
	require.NoError(t, err)

	require.Len(t, res.Neighbors, 1)
	nb := res.Neighbors[0]
	assert.False(t, nb.Missing)
	assert.Equal(t, 1, nb.Rank)
	assert.Equal(t, 4500.0, nb.X)
	assert.Equal(t, 2500.0, nb.Y)
	assert.InDelta(t, 2000.0, nb.Distance, 1e-9)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, []raster.Window{{ColOff: 0, RowOff: 0, Width: 5, Height: 5}}, res.Windows)
	assert.Equal(t, model.RowStatusOK, res.Status())
}

func TestFindNeighbors_Geographic(t *testing.T) {
	g := landGrid(t, 5, 5, [2]int{2, 4})
	rp := newReprojector()
	f := NewFinder(g, rp)

	lon, lat, err := rp.Reproject(2500, 2500, albers, crs.Geographic)
	require.NoError(t, err)

	cfg := projectedConfig(1)
	cfg.QueryCRS = crs.Geographic
	res, err := f.FindNeighbors(context.Background(), model.Location{ID: "geo", Latitude: lat, Longitude: lon}, cfg)
	require.NoError(t, err)

	nb := res.Neighbors[0]
	require.False(t, nb.Missing)
	assert.Equal(t, 4500.0, nb.X)
	assert.Equal(t, 2500.0, nb.Y)
	assert.InDelta(t, 2000.0, nb.Distance, 1e-3)

	// reported coordinates are rounded to 4 decimals
	assert.InDelta(t, nb.Lat, round(nb.Lat, 4), 1e-12)
	assert.InDelta(t, nb.Lon, round(nb.Lon, 4), 1e-12)

	// and map back onto the cell center within the rounding tolerance
	x, y, err := rp.Reproject(nb.Lon, nb.Lat, crs.Geographic, albers)
	require.NoError(t, err)
	assert.InDelta(t, nb.X, x, 11)
	assert.InDelta(t, nb.Y, y, 11)
}

func TestFindNeighbors_PartialResult(t *testing.T) {
	g := landGrid(t, 5, 5, [2]int{0, 0}, [2]int{2, 3})
	f := NewFinder(g, newReprojector())

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), projectedConfig(3))
	require.NoError(t, err)

	require.Len(t, res.Neighbors, 3)
	assert.Equal(t, 2, res.Found())
	assert.Equal(t, 3500.0, res.Neighbors[0].X)
	assert.Equal(t, 500.0, res.Neighbors[1].X)
	assert.Equal(t, 4500.0, res.Neighbors[1].Y)
	assert.True(t, res.Neighbors[2].Missing)
	assert.Equal(t, 3, res.Neighbors[2].Rank)
	assert.Zero(t, res.Neighbors[2].Distance)
	assert.Equal(t, model.RowStatusPartial, res.Status())
}

func TestFindNeighbors_OrderedByDistance(t *testing.T) {
	var water [][2]int
	for r := 0; r < 7; r++ {
		for c := 0; c < 7; c++ {
			if (r+c)%2 == 0 {
				water = append(water, [2]int{r, c})
			}
		}
	}
	g := landGrid(t, 7, 7, water...)
	f := NewFinder(g, newReprojector())

	cfg := projectedConfig(6)
	cfg.HalfSizeM = 3500
	res, err := f.FindNeighbors(context.Background(), at("q", 3200, 3900), cfg)
	require.NoError(t, err)

	require.Equal(t, 6, res.Found())
	for i := 1; i < len(res.Neighbors); i++ {
		assert.LessOrEqual(t, res.Neighbors[i-1].Distance, res.Neighbors[i].Distance)
	}
}

func TestFindNeighbors_TiesFollowReadOrder(t *testing.T) {
	// four water cells one pixel from the center; row-major order puts
	// (1,2) first, then (2,1), (2,3), (3,2)
	g := landGrid(t, 5, 5, [2]int{3, 2}, [2]int{2, 3}, [2]int{2, 1}, [2]int{1, 2})
	f := NewFinder(g, newReprojector())

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), projectedConfig(3))
	require.NoError(t, err)

	got := make([][2]float64, 0, 3)
	for _, nb := range res.Neighbors {
		got = append(got, [2]float64{nb.X, nb.Y})
	}
	assert.Equal(t, [][2]float64{{2500, 3500}, {1500, 2500}, {3500, 2500}}, got)
}

func TestFindNeighbors_Idempotent(t *testing.T) {
	g := landGrid(t, 5, 5, [2]int{1, 1}, [2]int{1, 3}, [2]int{3, 1}, [2]int{3, 3})
	f := NewFinder(g, newReprojector())
	cfg := projectedConfig(2)

	a, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	b, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFindNeighbors_WindowClippedAtEdge(t *testing.T) {
	g := landGrid(t, 5, 5, [2]int{4, 2})
	f := NewFinder(g, newReprojector())

	// bottom-left cell; the window extends two cells past two edges
	res, err := f.FindNeighbors(context.Background(), at("q", 500, 500), projectedConfig(1))
	require.NoError(t, err)

	assert.Equal(t, []raster.Window{{ColOff: 0, RowOff: 2, Width: 3, Height: 3}}, res.Windows)
	nb := res.Neighbors[0]
	require.False(t, nb.Missing)
	assert.Equal(t, 2500.0, nb.X)
	assert.Equal(t, 500.0, nb.Y)
	assert.InDelta(t, 2000.0, nb.Distance, 1e-9)
}

func TestFindNeighbors_EmptyWindow(t *testing.T) {
	g := landGrid(t, 5, 5)
	f := NewFinder(g, newReprojector())

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), projectedConfig(2))
	require.NoError(t, err)

	require.Len(t, res.Neighbors, 2)
	assert.Equal(t, 0, res.Found())
	assert.Zero(t, res.Candidates)
	assert.Equal(t, model.RowStatusEmpty, res.Status())
	for _, nb := range res.Neighbors {
		assert.True(t, nb.Missing)
	}
}

func TestFindNeighbors_NoDataMatchesOnlyWhenAccepted(t *testing.T) {
	g := landGrid(t, 5, 5)
	g.SetNoData(255)
	f := NewFinder(g, newReprojector())

	cfg := projectedConfig(1)
	cfg.Accepted = []float64{255}
	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found())

	cfg.Accepted = []float64{0}
	res, err = f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, res.Neighbors[0].X)
	assert.Zero(t, res.Neighbors[0].Distance)
}

func TestFindNeighbors_InvalidConfiguration(t *testing.T) {
	src := &countingSource{Source: landGrid(t, 5, 5, [2]int{2, 2})}
	f := NewFinder(src, newReprojector())

	tests := []struct {
		name   string
		mutate func(*SearchConfig)
	}{
		{"k zero", func(c *SearchConfig) { c.K = 0 }},
		{"no accepted values", func(c *SearchConfig) { c.Accepted = nil }},
		{"band zero", func(c *SearchConfig) { c.Band = 0 }},
		{"band past count", func(c *SearchConfig) { c.Band = 2 }},
		{"zero half size", func(c *SearchConfig) { c.HalfSizeM = 0 }},
		{"unknown fallback", func(c *SearchConfig) { c.Fallback = "spiral" }},
		{"negative steps", func(c *SearchConfig) { c.MaxFallbackSteps = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := projectedConfig(1)
			tt.mutate(&cfg)
			_, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
	assert.Zero(t, src.reads.Load())
}

func TestFindNeighbors_OutsideRaster(t *testing.T) {
	f := NewFinder(landGrid(t, 5, 5, [2]int{2, 2}), newReprojector())

	_, err := f.FindNeighbors(context.Background(), at("far", 100000, 100000), projectedConfig(1))
	assert.ErrorIs(t, err, raster.ErrRasterRead)
}

func TestFindNeighbors_CRSMismatch(t *testing.T) {
	band := make([]float64, 25)
	g, err := raster.NewGrid(5, 5, raster.NorthUp(0, 5000, 1000, 1000), "EPSG:3005", band)
	require.NoError(t, err)
	f := NewFinder(g, newReprojector())

	_, err = f.FindNeighbors(context.Background(), at("q", 2500, 2500), projectedConfig(1))
	assert.ErrorIs(t, err, crs.ErrReprojection)

	undeclared, err := raster.NewGrid(5, 5, raster.NorthUp(0, 5000, 1000, 1000), "", band)
	require.NoError(t, err)
	_, err = NewFinder(undeclared, newReprojector()).FindNeighbors(context.Background(), at("q", 2500, 2500), projectedConfig(1))
	assert.ErrorIs(t, err, crs.ErrReprojection)
}

func TestFindNeighbors_UnknownQueryCRS(t *testing.T) {
	f := NewFinder(landGrid(t, 5, 5), newReprojector())
	cfg := projectedConfig(1)
	cfg.QueryCRS = "EPSG:999999"

	_, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	assert.ErrorIs(t, err, crs.ErrReprojection)
}

func TestFindNeighbors_FallbackShift(t *testing.T) {
	g := landGrid(t, 10, 5, [2]int{2, 9})
	f := NewFinder(g, newReprojector())

	cfg := projectedConfig(1)
	cfg.HalfSizeM = 1500
	cfg.Fallback = FallbackShift

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)

	assert.Equal(t, 4, res.FallbackSteps)
	assert.Len(t, res.Windows, 5)
	for i := 1; i < len(res.Windows); i++ {
		assert.Greater(t, res.Windows[i].ColOff, res.Windows[i-1].ColOff)
	}
	nb := res.Neighbors[0]
	require.False(t, nb.Missing)
	assert.Equal(t, 9500.0, nb.X)
	// distance is measured from the query, not the shifted center
	assert.InDelta(t, 7000.0, nb.Distance, 1e-9)

	cfg.MaxFallbackSteps = 2
	res, err = f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found())
	assert.Len(t, res.Windows, 3)
}

func TestFindNeighbors_FallbackShiftStopsAtEdge(t *testing.T) {
	src := &countingSource{Source: landGrid(t, 10, 5)}
	f := NewFinder(src, newReprojector())

	cfg := projectedConfig(1)
	cfg.HalfSizeM = 1500
	cfg.Fallback = FallbackShift
	cfg.MaxFallbackSteps = 100

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found())
	assert.Less(t, src.reads.Load(), int64(10))
	assert.Equal(t, int(src.reads.Load()), len(res.Windows))
}

func TestFindNeighbors_FallbackGrow(t *testing.T) {
	g := landGrid(t, 10, 5, [2]int{2, 9})
	f := NewFinder(g, newReprojector())

	cfg := projectedConfig(1)
	cfg.HalfSizeM = 1500
	cfg.Fallback = FallbackGrow

	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.FallbackSteps)
	assert.Equal(t, raster.Window{Width: 10, Height: 5}, res.Windows[3])
	assert.Equal(t, 9500.0, res.Neighbors[0].X)
}

func TestFindNeighbors_HugeHalfSize(t *testing.T) {
	f := NewFinder(landGrid(t, 5, 5, [2]int{4, 4}), newReprojector())

	cfg := projectedConfig(1)
	cfg.HalfSizeM = 1e300
	res, err := f.FindNeighbors(context.Background(), at("q", 500, 4500), cfg)
	require.NoError(t, err)
	require.Len(t, res.Windows, 1)
	assert.Equal(t, raster.Window{Width: 5, Height: 5}, res.Windows[0])
	assert.Equal(t, 4500.0, res.Neighbors[0].X)
	assert.Equal(t, 500.0, res.Neighbors[0].Y)
}

func TestFindNeighbors_FallbackGrowStopsAtFullExtent(t *testing.T) {
	src := &countingSource{Source: landGrid(t, 5, 5)}
	f := NewFinder(src, newReprojector())

	cfg := projectedConfig(1)
	cfg.HalfSizeM = 1e300
	cfg.Fallback = FallbackGrow
	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found())
	assert.Equal(t, int64(1), src.reads.Load())
}

func TestFindNeighbors_FallbackNone(t *testing.T) {
	src := &countingSource{Source: landGrid(t, 10, 5, [2]int{2, 9})}
	f := NewFinder(src, newReprojector())

	cfg := projectedConfig(1)
	cfg.HalfSizeM = 1500
	res, err := f.FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found())
	assert.Equal(t, int64(1), src.reads.Load())
}

func TestFindNeighbors_Canceled(t *testing.T) {
	f := NewFinder(landGrid(t, 5, 5, [2]int{2, 2}), newReprojector())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FindNeighbors(ctx, at("q", 2500, 2500), projectedConfig(1))
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	mu         sync.Mutex
	windows    []raster.Window
	candidates [][]Candidate
	results    []*NeighborResult
}

func (r *recordingObserver) OnWindow(_ model.Location, d *raster.WindowData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, d.Window)
}

func (r *recordingObserver) OnCandidates(_ model.Location, _ string, c []Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
}

func (r *recordingObserver) OnNeighbors(_ model.Location, _ string, res *NeighborResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func TestFindNeighbors_ObserverDoesNotAffectResult(t *testing.T) {
	g := landGrid(t, 5, 5, [2]int{0, 4}, [2]int{4, 0})
	cfg := projectedConfig(2)

	plain, err := NewFinder(g, newReprojector()).FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)

	obs := &recordingObserver{}
	observed, err := NewFinder(g, newReprojector(), WithObserver(obs)).FindNeighbors(context.Background(), at("q", 2500, 2500), cfg)
	require.NoError(t, err)

	assert.Equal(t, plain, observed)
	assert.Equal(t, observed.Windows, obs.windows)
	require.Len(t, obs.candidates, 1)
	assert.Len(t, obs.candidates[0], 2)
	assert.Equal(t, 0, obs.candidates[0][0].Order)
	assert.Equal(t, 4, obs.candidates[0][0].Col)
	require.Len(t, obs.results, 1)
	assert.Same(t, observed, obs.results[0])
}

func TestQueryBounds(t *testing.T) {
	f := NewFinder(landGrid(t, 5, 5), newReprojector())
	cfg := projectedConfig(1)

	b, err := f.QueryBounds(cfg)
	require.NoError(t, err)
	assert.Equal(t, crs.Bounds{MinX: 0, MinY: 0, MaxX: 5000, MaxY: 5000}, b)

	cfg.QueryCRS = crs.Geographic
	b, err = f.QueryBounds(cfg)
	require.NoError(t, err)
	// the Alaska Albers origin is at 50N 154W
	assert.InDelta(t, -154.0, b.MinX, 0.01)
	assert.InDelta(t, 50.0, b.MinY, 0.01)
	assert.Greater(t, b.MaxX, b.MinX)
}
