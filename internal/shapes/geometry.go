package shapes

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/crs"
)

// fromShape converts a shapefile record to a go-geom geometry. Polygon
// rings are grouped the shapefile way: clockwise rings are exteriors and
// each counter-clockwise ring is a hole of the exterior containing it.
func fromShape(s shp.Shape) (geom.T, error) {
	switch v := s.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{v.X, v.Y}), nil
	case *shp.PolyLine:
		return polyLineToMultiLineString(v), nil
	case *shp.Polygon:
		return polygonToMultiPolygon(v), nil
	case *shp.MultiPoint:
		flat := make([]float64, 0, len(v.Points)*2)
		for _, p := range v.Points {
			flat = append(flat, p.X, p.Y)
		}
		return geom.NewMultiPointFlat(geom.XY, flat), nil
	case *shp.Null, nil:
		return nil, nil
	default:
		return nil, eris.Errorf("shapes: unsupported shape %T", s)
	}
}

// partRanges returns the [start, end) point index of every part.
func partRanges(parts []int32, n int) [][2]int {
	out := make([][2]int, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		out[i] = [2]int{int(start), end}
	}
	return out
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}
	mls := geom.NewMultiLineString(geom.XY)
	for i, r := range partRanges(pl.Parts, len(pl.Points)) {
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(pl.Points[r[0]:r[1]]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("shapes: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	type poly struct {
		rings [][]float64
	}
	var polys []*poly
	var holes [][]float64
	for _, r := range partRanges(p.Parts, len(p.Points)) {
		ring := flatPoints(p.Points[r[0]:r[1]])
		if len(ring) < 8 {
			continue
		}
		if xy.IsRingCounterClockwise(geom.XY, ring) {
			holes = append(holes, ring)
			continue
		}
		polys = append(polys, &poly{rings: [][]float64{ring}})
	}

	for _, h := range holes {
		var owner *poly
		for _, pl := range polys {
			if xy.IsPointInRing(geom.XY, geom.Coord{h[0], h[1]}, pl.rings[0]) {
				owner = pl
				break
			}
		}
		if owner == nil {
			// counter-clockwise ring outside every exterior: treat as an
			// exterior with the wrong winding
			polys = append(polys, &poly{rings: [][]float64{h}})
			continue
		}
		owner.rings = append(owner.rings, h)
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i, pl := range polys {
		var flat []float64
		var ends []int
		for _, r := range pl.rings {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			zap.L().Debug("shapes: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// toShape converts a geometry to a shapefile record. Exterior rings are
// written clockwise and holes counter-clockwise.
func toShape(g geom.T) (shp.Shape, error) {
	switch v := g.(type) {
	case *geom.Point:
		return &shp.Point{X: v.X(), Y: v.Y()}, nil
	case *geom.MultiPoint:
		mp := &shp.MultiPoint{}
		for i := 0; i < v.NumPoints(); i++ {
			c := v.Point(i).Coords()
			mp.Points = append(mp.Points, shp.Point{X: c[0], Y: c[1]})
		}
		mp.NumPoints = int32(len(mp.Points))
		mp.Box = shp.BBoxFromPoints(mp.Points)
		return mp, nil
	case *geom.LineString:
		return shp.NewPolyLine([][]shp.Point{toPoints(v.FlatCoords(), v.Stride())}), nil
	case *geom.MultiLineString:
		var parts [][]shp.Point
		for i := 0; i < v.NumLineStrings(); i++ {
			ls := v.LineString(i)
			parts = append(parts, toPoints(ls.FlatCoords(), ls.Stride()))
		}
		return shp.NewPolyLine(parts), nil
	case *geom.Polygon:
		pl := shp.Polygon(*shp.NewPolyLine(polygonParts(v)))
		return &pl, nil
	case *geom.MultiPolygon:
		var parts [][]shp.Point
		for i := 0; i < v.NumPolygons(); i++ {
			parts = append(parts, polygonParts(v.Polygon(i))...)
		}
		pl := shp.Polygon(*shp.NewPolyLine(parts))
		return &pl, nil
	case nil:
		return &shp.Null{}, nil
	default:
		return nil, eris.Errorf("shapes: cannot write %T", g)
	}
}

func polygonParts(p *geom.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i).FlatCoords()
		stride := p.Stride()
		ccw := xy.IsRingCounterClockwise(p.Layout(), ring)
		pts := toPoints(ring, stride)
		if (i == 0 && ccw) || (i > 0 && !ccw) {
			reversePoints(pts)
		}
		parts = append(parts, pts)
	}
	return parts
}

func toPoints(flat []float64, stride int) []shp.Point {
	pts := make([]shp.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return pts
}

func reversePoints(pts []shp.Point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}

// Reproject returns a copy of g with every coordinate transformed from one
// CRS to another.
func Reproject(g geom.T, rp *crs.Reprojector, from, to string) (geom.T, error) {
	if g == nil || crs.Same(from, to) {
		return g, nil
	}
	t, err := rp.Transformer(from, to)
	if err != nil {
		return nil, err
	}

	src := g.FlatCoords()
	stride := g.Stride()
	flat := make([]float64, len(src))
	copy(flat, src)
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := t(flat[i], flat[i+1])
		if err != nil {
			return nil, eris.Wrapf(crs.ErrReprojection, "shapes: reproject (%f, %f): %v", flat[i], flat[i+1], err)
		}
		flat[i], flat[i+1] = x, y
	}

	switch v := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(v.Layout(), flat), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(v.Layout(), flat), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(v.Layout(), flat), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(v.Layout(), flat, v.Ends()), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(v.Layout(), flat, v.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(v.Layout(), flat, v.Endss()), nil
	default:
		return nil, eris.Errorf("shapes: cannot reproject %T", g)
	}
}
