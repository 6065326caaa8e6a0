// Package coastal measures how far point locations lie from the nearest
// coastline vertex.
package coastal

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/knn"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/points"
	"github.com/placekit/placekit/internal/shapes"
)

// Options selects the coastline features and the CRS distances are
// measured in.
type Options struct {
	CRS         string
	MinLat      float64
	MaxLat      float64
	ThresholdKM float64
}

// Coastline is an index over projected coastline vertices.
type Coastline struct {
	index *knn.Index
	rp    *crs.Reprojector
	crs   string
}

// Load reads a geographic coastline shapefile and indexes it.
func Load(path string, rp *crs.Reprojector, opts Options) (*Coastline, error) {
	l, err := shapes.Read(path)
	if err != nil {
		return nil, err
	}
	if l.CRS == "" {
		l.CRS = crs.Geographic
	}
	return New(l, rp, opts)
}

// New indexes every vertex of the features whose bounding box lies between
// opts.MinLat and opts.MaxLat.
func New(l *shapes.Layer, rp *crs.Reprojector, opts Options) (*Coastline, error) {
	if opts.CRS == "" {
		return nil, eris.New("coastal: crs is required")
	}
	from := l.CRS
	if from == "" {
		from = crs.Geographic
	}
	t, err := rp.Transformer(from, opts.CRS)
	if err != nil {
		return nil, err
	}

	var pts [][2]float64
	kept := 0
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bounds()
		if b.IsEmpty() || b.Min(1) < opts.MinLat || b.Max(1) > opts.MaxLat {
			continue
		}
		kept++
		flat := f.Geometry.FlatCoords()
		stride := f.Geometry.Stride()
		for i := 0; i+1 < len(flat); i += stride {
			x, y, err := t(flat[i], flat[i+1])
			if err != nil {
				return nil, eris.Wrapf(crs.ErrReprojection, "coastal: vertex (%f, %f): %v", flat[i], flat[i+1], err)
			}
			pts = append(pts, [2]float64{x, y})
		}
	}
	if len(pts) == 0 {
		return nil, eris.Errorf("coastal: no coastline between latitudes %v and %v", opts.MinLat, opts.MaxLat)
	}

	zap.L().Info("coastal: indexed coastline",
		zap.Int("features", kept),
		zap.Int("vertices", len(pts)),
		zap.String("crs", opts.CRS),
	)
	return &Coastline{index: knn.New(pts), rp: rp, crs: opts.CRS}, nil
}

// Vertices returns the number of indexed vertices.
func (c *Coastline) Vertices() int {
	return c.index.Len()
}

// DistanceKM returns the distance from a WGS84 location to the nearest
// coastline vertex, in kilometers rounded to 0.1.
func (c *Coastline) DistanceKM(loc model.Location) (float64, error) {
	x, y, err := c.rp.Reproject(loc.Longitude, loc.Latitude, crs.Geographic, c.crs)
	if err != nil {
		return 0, err
	}
	hits := c.index.Nearest(x, y, 1)
	if len(hits) == 0 {
		return 0, eris.New("coastal: empty index")
	}
	return math.Round(hits[0].Distance/100) / 10, nil
}

// Annotate fills km_distance_to_ocean and is_coastal for every row of t.
// A row is coastal when it lies closer than thresholdKM.
func Annotate(t *points.Table, c *Coastline, thresholdKM float64) (int, error) {
	locs, err := t.Locations()
	if err != nil {
		return 0, err
	}

	dist := make([]string, len(locs))
	coastal := make([]string, len(locs))
	n := 0
	for i, loc := range locs {
		km, err := c.DistanceKM(loc)
		if err != nil {
			return 0, eris.Wrapf(err, "coastal: row %d (%s)", i+1, loc.ID)
		}
		dist[i] = strconv.FormatFloat(km, 'f', 1, 64)
		coastal[i] = "False"
		if km < thresholdKM {
			coastal[i] = "True"
			n++
		}
	}

	if err := t.SetColumn(points.ColOcean, dist); err != nil {
		return 0, err
	}
	if err := t.SetColumn(points.ColCoastal, coastal); err != nil {
		return 0, err
	}
	zap.L().Info("coastal: annotated rows", zap.Int("rows", len(locs)), zap.Int("coastal", n))
	return n, nil
}
