// Package nearest finds, for a query point, the k raster cells closest to it
// whose value belongs to an accepted set, searching a bounded window around
// the point.
package nearest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/knn"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/raster"
)

// Finder runs windowed nearest-cell searches against one raster. The raster
// is only read, so a Finder may be shared by concurrent queries.
type Finder struct {
	src      raster.Source
	rp       *crs.Reprojector
	observer Observer
}

// Option configures a Finder.
type Option func(*Finder)

// WithObserver attaches a diagnostics observer.
func WithObserver(o Observer) Option {
	return func(f *Finder) {
		if o != nil {
			f.observer = o
		}
	}
}

// NewFinder creates a Finder over src.
func NewFinder(src raster.Source, rp *crs.Reprojector, opts ...Option) *Finder {
	f := &Finder{src: src, rp: rp, observer: NopObserver{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Source returns the raster the finder searches.
func (f *Finder) Source() raster.Source {
	return f.src
}

// QueryBounds returns the raster envelope in the query CRS, for selecting
// which rows need a search at all.
func (f *Finder) QueryBounds(cfg SearchConfig) (crs.Bounds, error) {
	b := raster.Bounds(f.src)
	return f.rp.TransformBounds(b, f.src.CRS(), cfg.queryCRS(), 21)
}

// CheckConfig validates cfg against the raster without reading any cells.
func (f *Finder) CheckConfig(cfg SearchConfig) error {
	if err := cfg.Validate(f.src.BandCount()); err != nil {
		return err
	}
	if f.src.CRS() == "" {
		return eris.Wrapf(crs.ErrReprojection, "nearest: raster declares no crs, search crs is %s", cfg.CRS)
	}
	if !crs.Same(f.src.CRS(), cfg.CRS) {
		return eris.Wrapf(crs.ErrReprojection, "nearest: raster crs %s differs from search crs %s", f.src.CRS(), cfg.CRS)
	}
	return nil
}

// FindNeighbors returns the k accepted cells nearest to loc. A window with
// no accepted cells yields a result whose ranks are all missing, not an
// error. A first window that misses the raster entirely fails with
// raster.ErrRasterRead.
func (f *Finder) FindNeighbors(ctx context.Context, loc model.Location, cfg SearchConfig) (*NeighborResult, error) {
	if err := f.CheckConfig(cfg); err != nil {
		return nil, err
	}

	x, y, err := f.rp.Reproject(loc.Longitude, loc.Latitude, cfg.queryCRS(), cfg.CRS)
	if err != nil {
		return nil, eris.Wrapf(err, "nearest: project %s", loc.ID)
	}

	res := &NeighborResult{
		ID:    loc.ID,
		Name:  loc.Name,
		Query: model.ProjectedPoint{X: x, Y: y},
	}

	cands, err := f.search(ctx, loc, cfg, res)
	if err != nil {
		return nil, err
	}
	res.Candidates = len(cands)

	pts := make([][2]float64, len(cands))
	for i, c := range cands {
		pts[i] = [2]float64{c.X, c.Y}
	}
	hits := knn.New(pts).Nearest(x, y, cfg.K)

	res.Neighbors = make([]Neighbor, cfg.K)
	for i := range res.Neighbors {
		res.Neighbors[i] = Neighbor{Rank: i + 1, Missing: true}
		if i >= len(hits) {
			continue
		}
		h := hits[i]
		lon, lat, err := f.rp.Reproject(h.X, h.Y, cfg.CRS, cfg.queryCRS())
		if err != nil {
			return nil, eris.Wrapf(err, "nearest: unproject neighbor %d of %s", i+1, loc.ID)
		}
		res.Neighbors[i] = Neighbor{
			Rank:     i + 1,
			X:        h.X,
			Y:        h.Y,
			Lat:      round(lat, cfg.Decimals),
			Lon:      round(lon, cfg.Decimals),
			Distance: h.Distance,
		}
	}

	f.observer.OnNeighbors(loc, cfg.CRS, res)
	return res, nil
}

// search reads windows around the projected query point until one holds
// candidates or the fallback policy gives up.
func (f *Finder) search(ctx context.Context, loc model.Location, cfg SearchConfig, res *NeighborResult) ([]Candidate, error) {
	cx, cy := res.Query.X, res.Query.Y
	half := cfg.HalfSizeM
	extent := raster.Extent(f.src)

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "nearest: search")
		}

		bounds := crs.Bounds{MinX: cx - half, MinY: cy - half, MaxX: cx + half, MaxY: cy + half}
		full, err := raster.FromBounds(bounds, f.src.Transform())
		if err != nil {
			return nil, eris.Wrapf(raster.ErrRasterRead, "nearest: window for %s: %v", loc.ID, err)
		}
		win := full.Intersect(extent)
		if win.Empty() {
			if step == 0 {
				return nil, eris.Wrapf(raster.ErrRasterRead, "nearest: window %+v for %s lies outside the raster", full, loc.ID)
			}
			zap.L().Debug("nearest: fallback left the raster",
				zap.String("id", loc.ID),
				zap.Int("step", step),
			)
			return nil, nil
		}

		data, err := f.src.ReadWindow(cfg.Band, win)
		if err != nil {
			return nil, eris.Wrapf(err, "nearest: read window for %s", loc.ID)
		}
		res.Windows = append(res.Windows, win)
		res.FallbackSteps = step
		f.observer.OnWindow(loc, data)

		cands := candidates(data, cfg)
		f.observer.OnCandidates(loc, cfg.CRS, cands)
		if len(cands) > 0 {
			return cands, nil
		}

		if cfg.Fallback == FallbackNone || cfg.Fallback == "" || step >= cfg.MaxFallbackSteps {
			return nil, nil
		}
		if cfg.Fallback == FallbackGrow && win == extent {
			// the whole raster has been searched
			return nil, nil
		}
		switch cfg.Fallback {
		case FallbackShift:
			cx += half
		case FallbackGrow:
			half *= 2
		}
		zap.L().Debug("nearest: no candidates, retrying",
			zap.String("id", loc.ID),
			zap.String("fallback", string(cfg.Fallback)),
			zap.Int("step", step+1),
			zap.Float64("half_size_m", half),
		)
	}
}

// candidates lists the accepted pixels of a window in row-major order, each
// located at its pixel center.
func candidates(data *raster.WindowData, cfg SearchConfig) []Candidate {
	var out []Candidate
	w := data.Window
	for r := 0; r < w.Height; r++ {
		for c := 0; c < w.Width; c++ {
			v := data.At(r, c)
			if !cfg.accepts(v) {
				continue
			}
			x, y := data.Transform.Center(r, c)
			out = append(out, Candidate{
				Order: len(out),
				Row:   w.RowOff + r,
				Col:   w.ColOff + c,
				X:     x,
				Y:     y,
				Value: v,
			})
		}
	}
	return out
}
