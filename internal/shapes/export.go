package shapes

import (
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/points"
)

// Shapefile column names are capped at ten characters.
var shortNames = map[string]string{
	points.ColOcean: "km2ocean",
}

var floatColumns = map[string]bool{
	points.ColLatitude:  true,
	points.ColLongitude: true,
	"km2ocean":          true,
}

// ExportOptions configures ExportCommunities.
type ExportOptions struct {
	// Exclude drops rows whose name matches, case-insensitively.
	Exclude []string
	// Type fills the "type" attribute of every feature.
	Type string
	// Clip keeps only points inside one of its polygons when set. It must
	// be in EPSG:4326.
	Clip *Layer
}

// ExportCommunities concatenates point tables into one EPSG:4326 point
// layer. Column order follows the first table that names each column.
func ExportCommunities(tables []*points.Table, opts ExportOptions) (*Layer, error) {
	exclude := make(map[string]bool, len(opts.Exclude))
	for _, n := range opts.Exclude {
		exclude[strings.ToLower(strings.TrimSpace(n))] = true
	}
	kind := opts.Type
	if kind == "" {
		kind = "community"
	}

	var header []string
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, col := range t.Header {
			name := col
			if short, ok := shortNames[col]; ok {
				name = short
			}
			if !seen[name] {
				seen[name] = true
				header = append(header, name)
			}
		}
	}
	if !seen["type"] {
		header = append(header, "type")
	}

	layer := &Layer{CRS: crs.Geographic}
	for _, name := range header {
		switch {
		case floatColumns[name]:
			layer.Fields = append(layer.Fields, FloatField(name, points.CoordDecimals))
		case name == points.ColCoastal:
			layer.Fields = append(layer.Fields, BoolField(name))
		default:
			layer.Fields = append(layer.Fields, StringField(name, 0))
		}
	}

	var excluded, clipped int
	for ti, t := range tables {
		locs, err := t.Locations()
		if err != nil {
			return nil, eris.Wrapf(err, "shapes: table %d", ti)
		}
		for r, loc := range locs {
			if exclude[strings.ToLower(loc.Name)] {
				excluded++
				continue
			}
			if opts.Clip != nil && !Contains(opts.Clip, loc.Longitude, loc.Latitude) {
				clipped++
				continue
			}

			attrs := map[string]string{"type": kind}
			for _, col := range t.Header {
				name := col
				if short, ok := shortNames[col]; ok {
					name = short
				}
				attrs[name] = t.Rows[r][t.Index(col)]
			}
			layer.Features = append(layer.Features, Feature{
				Geometry: geom.NewPointFlat(geom.XY, []float64{loc.Longitude, loc.Latitude}),
				Attrs:    attrs,
			})
		}
	}

	for i, f := range layer.Fields {
		if f.Type == 'C' {
			width := 1
			for _, feat := range layer.Features {
				width = max(width, len(feat.Attrs[f.Name]))
			}
			layer.Fields[i].Size = uint8(min(width, 254))
		}
	}

	zap.L().Info("shapes: exported communities",
		zap.Int("features", len(layer.Features)),
		zap.Int("excluded", excluded),
		zap.Int("clipped", clipped),
	)
	return layer, nil
}

// Contains reports whether (x, y) lies inside any polygon of the layer.
// Points inside a hole are outside.
func Contains(l *Layer, x, y float64) bool {
	pt := geom.Coord{x, y}
	for _, f := range l.Features {
		for _, p := range polygonsOf(f.Geometry) {
			if !xy.IsPointInRing(p.Layout(), pt, p.LinearRing(0).FlatCoords()) {
				continue
			}
			inHole := false
			for r := 1; r < p.NumLinearRings(); r++ {
				if xy.IsPointInRing(p.Layout(), pt, p.LinearRing(r).FlatCoords()) {
					inHole = true
					break
				}
			}
			if !inHole {
				return true
			}
		}
	}
	return false
}

// AreaInput is one shapefile contributing to MergeAreas.
type AreaInput struct {
	Path     string
	CRS      string
	Type     string
	AreaType string
}

// DefaultMergeDrop lists the columns dropped when merging area layers.
var DefaultMergeDrop = []string{"region", "country", "states", "FIPS", "agency", "subunit", "sublabel"}

// MergeAreas reads polygon shapefiles, tags each feature with its input's
// type and area_type, drops the listed columns and reprojects everything
// to EPSG:4326.
func MergeAreas(inputs []AreaInput, rp *crs.Reprojector, drop []string) (*Layer, error) {
	out := &Layer{CRS: crs.Geographic}
	for _, in := range inputs {
		if in.CRS == "" {
			return nil, eris.Errorf("shapes: no crs for %s", in.Path)
		}
		l, err := Read(in.Path)
		if err != nil {
			return nil, err
		}
		l.DropFields(drop...)
		l.EnsureField(StringField("type", fieldSize(in.Type)))
		l.EnsureField(StringField("area_type", fieldSize(in.AreaType)))
		l.SetAll("type", in.Type)
		l.SetAll("area_type", in.AreaType)

		for _, f := range l.Fields {
			if out.FieldIndex(f.Name) < 0 {
				out.Fields = append(out.Fields, f)
			} else if i := out.FieldIndex(f.Name); f.Size > out.Fields[i].Size {
				out.Fields[i].Size = f.Size
			}
		}
		for i, f := range l.Features {
			g, err := Reproject(f.Geometry, rp, in.CRS, crs.Geographic)
			if err != nil {
				return nil, eris.Wrapf(err, "shapes: %s feature %d", in.Path, i)
			}
			f.Geometry = g
			out.Features = append(out.Features, f)
		}
		zap.L().Info("shapes: merged area layer", zap.String("path", in.Path), zap.Int("features", len(l.Features)))
	}
	return out, nil
}

// WriteGeoJSON saves a layer as a GeoJSON feature collection. Numeric and
// logical fields are written as JSON numbers and booleans.
func WriteGeoJSON(path string, l *Layer) error {
	fc := geojson.NewFeatureCollection()
	for i, f := range l.Features {
		g, err := toOrb(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "shapes: feature %d", i)
		}
		feat := geojson.NewFeature(g)
		for _, field := range l.Fields {
			feat.Properties[field.Name] = property(field, f.Attrs[field.Name])
		}
		fc.Append(feat)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "shapes: marshal geojson")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "shapes: write %s", path)
	}
	return nil
}

func property(f Field, v string) any {
	switch f.Type {
	case 'F', 'N':
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n
		}
		return nil
	case 'L':
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "T", "TRUE", "Y", "YES", "1":
			return true
		case "F", "FALSE", "N", "NO", "0":
			return false
		}
		return nil
	default:
		return v
	}
}

func toOrb(g geom.T) (orb.Geometry, error) {
	switch v := g.(type) {
	case *geom.Point:
		return orb.Point{v.X(), v.Y()}, nil
	case *geom.MultiPoint:
		mp := make(orb.MultiPoint, 0, v.NumPoints())
		for i := 0; i < v.NumPoints(); i++ {
			p := v.Point(i)
			mp = append(mp, orb.Point{p.X(), p.Y()})
		}
		return mp, nil
	case *geom.LineString:
		return lineToOrb(v.FlatCoords(), v.Stride()), nil
	case *geom.MultiLineString:
		mls := make(orb.MultiLineString, 0, v.NumLineStrings())
		for i := 0; i < v.NumLineStrings(); i++ {
			ls := v.LineString(i)
			mls = append(mls, lineToOrb(ls.FlatCoords(), ls.Stride()))
		}
		return mls, nil
	case *geom.Polygon:
		return polygonToOrb(v), nil
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, v.NumPolygons())
		for i := 0; i < v.NumPolygons(); i++ {
			mp = append(mp, polygonToOrb(v.Polygon(i)))
		}
		return mp, nil
	default:
		return nil, eris.Errorf("shapes: unsupported geometry %T", g)
	}
}

func polygonToOrb(p *geom.Polygon) orb.Polygon {
	poly := make(orb.Polygon, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		poly = append(poly, orb.Ring(lineToOrb(p.LinearRing(i).FlatCoords(), p.Stride())))
	}
	return poly
}
