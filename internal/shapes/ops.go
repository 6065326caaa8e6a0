package shapes

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/points"
)

// Centroid is a polygon reduced to a point, in the query CRS.
type Centroid struct {
	Name    string            `json:"name"`
	Lat     float64           `json:"lat"`
	Lon     float64           `json:"lon"`
	AreaKM2 float64           `json:"area_km2"`
	Attrs   map[string]string `json:"attrs"`
}

// SmallPolygonsToPoints splits a polygon layer by area measured in
// projCRS. Features smaller than maxAreaKM2 are returned as centroids in
// EPSG:4326; the rest are returned as a layer in the input CRS.
func SmallPolygonsToPoints(l *Layer, rp *crs.Reprojector, projCRS string, maxAreaKM2 float64) ([]Centroid, *Layer, error) {
	if l.CRS == "" {
		return nil, nil, eris.New("shapes: layer crs is required to measure area")
	}

	large := &Layer{Fields: l.Fields, CRS: l.CRS}
	var small []Centroid
	for i, f := range l.Features {
		projected, err := Reproject(f.Geometry, rp, l.CRS, projCRS)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "shapes: feature %d", i)
		}

		areaKM2 := Area(projected) / 1e6
		if areaKM2 >= maxAreaKM2 {
			large.Features = append(large.Features, f)
			continue
		}

		c, err := xy.Centroid(projected)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "shapes: centroid of feature %d", i)
		}
		lon, lat, err := rp.Reproject(c.X(), c.Y(), projCRS, crs.Geographic)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "shapes: feature %d", i)
		}
		small = append(small, Centroid{
			Name:    f.Attrs["name"],
			Lat:     lat,
			Lon:     lon,
			AreaKM2: areaKM2,
			Attrs:   f.Attrs,
		})
	}

	zap.L().Info("shapes: split polygons by area",
		zap.Int("small", len(small)),
		zap.Int("kept", len(large.Features)),
		zap.Float64("max_area_km2", maxAreaKM2),
	)
	return small, large, nil
}

// AddCentroids appends each centroid to t as a new point location of the
// region and tags the new rows. It returns the updated copy and the ids
// assigned, in centroid order.
func AddCentroids(t *points.Table, cs []Centroid, region, regionName, country string, tags []string) (*points.Table, []string, error) {
	out := t
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		var id string
		var err error
		out, id, err = points.AddRecord(out, points.Record{
			Name:       c.Name,
			AltName:    c.Attrs[points.ColAltName],
			Region:     region,
			RegionName: regionName,
			Country:    country,
			Latitude:   c.Lat,
			Longitude:  c.Lon,
		})
		if err != nil {
			return nil, nil, eris.Wrapf(err, "shapes: add centroid %q", c.Name)
		}
		ids = append(ids, id)
	}

	if len(tags) > 0 && len(ids) > 0 {
		added := make(map[string]bool, len(ids))
		for _, id := range ids {
			added[id] = true
		}
		joined := strings.Join(tags, ",")
		for r := range out.Rows {
			if added[out.Get(r, points.ColID)] {
				out.Set(r, points.ColTags, joined)
			}
		}
	}
	return out, ids, nil
}

// Area returns the planar area of polygonal geometries and 0 otherwise.
// Ring orientation is ignored: shapefile exteriors are clockwise, so the
// signed go-geom area would come out negative.
func Area(g geom.T) float64 {
	var a float64
	for _, p := range polygonsOf(g) {
		a += polygonArea(p)
	}
	return a
}

func polygonArea(p *geom.Polygon) float64 {
	if p.NumLinearRings() == 0 {
		return 0
	}
	a := math.Abs(p.LinearRing(0).Area())
	for i := 1; i < p.NumLinearRings(); i++ {
		a -= math.Abs(p.LinearRing(i).Area())
	}
	return a
}

// Bounds returns the envelope of every feature of a layer.
func Bounds(l *Layer) (crs.Bounds, bool) {
	b := crs.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	found := false
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		gb := f.Geometry.Bounds()
		if gb.IsEmpty() {
			continue
		}
		found = true
		b.MinX = math.Min(b.MinX, gb.Min(0))
		b.MinY = math.Min(b.MinY, gb.Min(1))
		b.MaxX = math.Max(b.MaxX, gb.Max(0))
		b.MaxY = math.Max(b.MaxY, gb.Max(1))
	}
	return b, found
}

// ShadowMask returns the inverse of a polygon layer within its bounding
// box: one feature covering the box with every input exterior cut out as a
// hole. Holes of the input become filled polygons of the mask.
func ShadowMask(l *Layer, id, name string) (*Layer, error) {
	b, ok := Bounds(l)
	if !ok {
		return nil, eris.New("shapes: layer has no geometry")
	}

	box := []float64{
		b.MinX, b.MinY, b.MinX, b.MaxY, b.MaxX, b.MaxY, b.MaxX, b.MinY, b.MinX, b.MinY,
	}
	outer := append([]float64(nil), box...)
	ends := []int{len(outer)}
	var islands []*geom.Polygon

	for _, f := range l.Features {
		for _, p := range polygonsOf(f.Geometry) {
			ext := p.LinearRing(0).FlatCoords()
			outer = append(outer, ext...)
			ends = append(ends, len(outer))
			for r := 1; r < p.NumLinearRings(); r++ {
				hole := p.LinearRing(r).FlatCoords()
				islands = append(islands, geom.NewPolygonFlat(geom.XY, append([]float64(nil), hole...), []int{len(hole)}))
			}
		}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(geom.NewPolygonFlat(geom.XY, outer, ends)); err != nil {
		return nil, eris.Wrap(err, "shapes: build mask")
	}
	for _, isl := range islands {
		if err := mp.Push(isl); err != nil {
			return nil, eris.Wrap(err, "shapes: build mask island")
		}
	}

	return &Layer{
		Fields: []Field{StringField("id", fieldSize(id)), StringField("name", fieldSize(name))},
		Features: []Feature{{
			Geometry: mp,
			Attrs:    map[string]string{"id": id, "name": name},
		}},
		CRS: l.CRS,
	}, nil
}

// polygonsOf lists the polygons of a polygonal geometry.
func polygonsOf(g geom.T) []*geom.Polygon {
	switch v := g.(type) {
	case *geom.Polygon:
		return []*geom.Polygon{v}
	case *geom.MultiPolygon:
		out := make([]*geom.Polygon, v.NumPolygons())
		for i := range out {
			out[i] = v.Polygon(i)
		}
		return out
	default:
		return nil
	}
}

// DropParts removes every polygon part whose eastern edge lies beyond
// maxX. Features left with no parts are removed. It returns the number of
// parts dropped.
func DropParts(l *Layer, maxX float64) int {
	dropped := 0
	kept := l.Features[:0]
	for _, f := range l.Features {
		polys := polygonsOf(f.Geometry)
		if polys == nil {
			kept = append(kept, f)
			continue
		}

		mp := geom.NewMultiPolygon(geom.XY)
		for _, p := range polys {
			if p.Bounds().Max(0) > maxX {
				dropped++
				continue
			}
			if err := mp.Push(p); err != nil {
				zap.L().Debug("shapes: skipping malformed part", zap.Error(err))
			}
		}
		if mp.NumPolygons() == 0 {
			continue
		}
		f.Geometry = mp
		kept = append(kept, f)
	}
	l.Features = kept

	zap.L().Info("shapes: dropped parts", zap.Int("dropped", dropped), zap.Float64("max_x", maxX))
	return dropped
}

// SimplifyOptions configures Simplify.
type SimplifyOptions struct {
	// Tolerance is the Douglas-Peucker distance in layer units.
	Tolerance float64
	// RenameID renames this field to "id" before filtering.
	RenameID string
	// DropIDs removes features whose id is listed.
	DropIDs []string
	// Keep restricts output fields to these, in order, when set.
	Keep []string
}

// Simplify applies Douglas-Peucker simplification to every line and
// polygon. A ring that would collapse below four points keeps its original
// vertices.
func Simplify(l *Layer, opts SimplifyOptions) error {
	if opts.Tolerance < 0 {
		return eris.Errorf("shapes: negative tolerance %v", opts.Tolerance)
	}
	if opts.RenameID != "" {
		l.RenameField(opts.RenameID, "id")
	}

	drop := make(map[string]bool, len(opts.DropIDs))
	for _, id := range opts.DropIDs {
		drop[strings.TrimSpace(id)] = true
	}

	s := simplify.DouglasPeucker(opts.Tolerance)
	kept := l.Features[:0]
	for _, f := range l.Features {
		if drop[f.Attrs["id"]] {
			continue
		}
		g, err := simplifyGeom(s, f.Geometry)
		if err != nil {
			return err
		}
		f.Geometry = g
		kept = append(kept, f)
	}
	l.Features = kept

	if len(opts.Keep) > 0 {
		keep := make(map[string]bool, len(opts.Keep))
		for _, k := range opts.Keep {
			keep[strings.ToLower(k)] = true
		}
		var extra []string
		for _, f := range l.Fields {
			if !keep[strings.ToLower(f.Name)] {
				extra = append(extra, f.Name)
			}
		}
		l.DropFields(extra...)
	}
	return nil
}

func simplifyGeom(s *simplify.DouglasPeuckerSimplifier, g geom.T) (geom.T, error) {
	switch v := g.(type) {
	case *geom.LineString:
		return lineFromOrb(s.LineString(lineToOrb(v.FlatCoords(), v.Stride()))), nil
	case *geom.MultiLineString:
		out := geom.NewMultiLineString(geom.XY)
		for i := 0; i < v.NumLineStrings(); i++ {
			ls := v.LineString(i)
			if err := out.Push(lineFromOrb(s.LineString(lineToOrb(ls.FlatCoords(), ls.Stride())))); err != nil {
				return nil, eris.Wrap(err, "shapes: simplify linestring")
			}
		}
		return out, nil
	case *geom.Polygon:
		return simplifyPolygon(s, v), nil
	case *geom.MultiPolygon:
		out := geom.NewMultiPolygon(geom.XY)
		for i := 0; i < v.NumPolygons(); i++ {
			if err := out.Push(simplifyPolygon(s, v.Polygon(i))); err != nil {
				return nil, eris.Wrap(err, "shapes: simplify polygon")
			}
		}
		return out, nil
	default:
		return g, nil
	}
}

func simplifyPolygon(s *simplify.DouglasPeuckerSimplifier, p *geom.Polygon) *geom.Polygon {
	var flat []float64
	var ends []int
	for i := 0; i < p.NumLinearRings(); i++ {
		orig := p.LinearRing(i).FlatCoords()
		ring := s.Ring(orb.Ring(lineToOrb(orig, p.Stride())))
		if len(ring) < 4 {
			if i > 0 {
				// hole smaller than the tolerance
				continue
			}
			ring = orb.Ring(lineToOrb(orig, p.Stride()))
		}
		for _, pt := range ring {
			flat = append(flat, pt[0], pt[1])
		}
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

func lineToOrb(flat []float64, stride int) orb.LineString {
	ls := make(orb.LineString, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		ls = append(ls, orb.Point{flat[i], flat[i+1]})
	}
	return ls
}

func lineFromOrb(ls orb.LineString) *geom.LineString {
	flat := make([]float64, 0, len(ls)*2)
	for _, p := range ls {
		flat = append(flat, p[0], p[1])
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}
