// Package shapes reads and writes ESRI shapefiles as go-geom features and
// implements the polygon maintenance operations run on the boundary layers.
package shapes

import (
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// maxFieldName is the DBF limit on attribute names.
const maxFieldName = 10

// Field describes one DBF attribute column.
type Field struct {
	Name     string `json:"name"`
	Type     byte   `json:"type"` // C, N, F, L or D
	Size     uint8  `json:"size"`
	Decimals uint8  `json:"decimals"`
}

// StringField returns a character field.
func StringField(name string, size uint8) Field {
	return Field{Name: name, Type: 'C', Size: size}
}

// FloatField returns a float field with fixed decimals.
func FloatField(name string, decimals uint8) Field {
	return Field{Name: name, Type: 'F', Size: 19, Decimals: decimals}
}

// BoolField returns a logical field.
func BoolField(name string) Field {
	return Field{Name: name, Type: 'L', Size: 1}
}

// Feature is a geometry with its attributes keyed by field name.
type Feature struct {
	Geometry geom.T
	Attrs    map[string]string
}

// Layer is the content of one shapefile.
type Layer struct {
	Fields   []Field
	Features []Feature
	// CRS is the code of the layer's coordinate system, if known.
	CRS string
}

// FieldIndex returns the position of a field, or -1.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// EnsureField appends f unless a field of the same name exists.
func (l *Layer) EnsureField(f Field) {
	if l.FieldIndex(f.Name) < 0 {
		l.Fields = append(l.Fields, f)
	}
}

// SetAll sets an attribute on every feature, adding a string field for it.
func (l *Layer) SetAll(name, value string) {
	l.EnsureField(StringField(name, fieldSize(value)))
	for i := range l.Features {
		l.Features[i].Attrs[name] = value
	}
}

// DropFields removes fields and their attribute values.
func (l *Layer) DropFields(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[strings.ToLower(n)] = true
	}
	kept := l.Fields[:0]
	for _, f := range l.Fields {
		if drop[strings.ToLower(f.Name)] {
			for i := range l.Features {
				delete(l.Features[i].Attrs, f.Name)
			}
			continue
		}
		kept = append(kept, f)
	}
	l.Fields = kept
}

// RenameField renames a field, keeping its position.
func (l *Layer) RenameField(from, to string) {
	i := l.FieldIndex(from)
	if i < 0 {
		return
	}
	old := l.Fields[i].Name
	l.Fields[i].Name = to
	for j := range l.Features {
		if v, ok := l.Features[j].Attrs[old]; ok {
			delete(l.Features[j].Attrs, old)
			l.Features[j].Attrs[to] = v
		}
	}
}

// Read loads a shapefile. Attribute text is decoded with the code page
// named in the .cpg sidecar; without one, text that is not valid UTF-8 is
// read as Windows-1252.
func Read(path string) (*Layer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	dec, err := codePage(path)
	if err != nil {
		return nil, err
	}

	fields := reader.Fields()
	layer := &Layer{Fields: make([]Field, len(fields))}
	for i, f := range fields {
		layer.Fields[i] = Field{
			Name:     strings.TrimRight(f.String(), "\x00"),
			Type:     f.Fieldtype,
			Size:     f.Size,
			Decimals: f.Precision,
		}
	}

	var skipped int
	for reader.Next() {
		n, s := reader.Shape()
		g, err := fromShape(s)
		if err != nil {
			skipped++
			zap.L().Debug("shapes: skipping record", zap.String("path", path), zap.Int("record", n), zap.Error(err))
			continue
		}

		attrs := make(map[string]string, len(fields))
		for i, f := range layer.Fields {
			attrs[f.Name] = decodeText(dec, strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00")))
		}
		layer.Features = append(layer.Features, Feature{Geometry: g, Attrs: attrs})
	}

	if skipped > 0 {
		zap.L().Warn("shapes: skipped unsupported records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return layer, nil
}

// codePage returns the decoder named by the shapefile's .cpg sidecar, or
// nil when there is none.
func codePage(shpPath string) (*encoding.Decoder, error) {
	cpg := strings.TrimSuffix(shpPath, ".shp") + ".cpg"
	data, err := os.ReadFile(cpg)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: read %s", cpg)
	}

	name := strings.TrimSpace(string(data))
	if _, err := strconv.Atoi(name); err == nil {
		// bare ANSI code page numbers such as 1252
		name = "windows-" + name
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: unknown code page %q in %s", name, cpg)
	}
	return enc.NewDecoder(), nil
}

var fallbackDecoder = func() *encoding.Decoder {
	enc, _ := htmlindex.Get("windows-1252")
	return enc.NewDecoder()
}()

func decodeText(dec *encoding.Decoder, s string) string {
	if dec == nil {
		if utf8.ValidString(s) {
			return s
		}
		dec = fallbackDecoder
	}
	out, err := dec.String(s)
	if err != nil {
		return s
	}
	return out
}

// Write saves a layer as a shapefile with a UTF-8 .cpg sidecar. All
// geometries must map to the same shapefile type.
func Write(path string, l *Layer) error {
	shapeType, err := layerShapeType(l)
	if err != nil {
		return err
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return eris.Wrapf(err, "shapes: create %s", path)
	}

	fields := make([]shp.Field, len(l.Fields))
	for i, f := range l.Fields {
		fields[i] = toDBFField(f)
	}
	w.SetFields(fields)

	for _, feat := range l.Features {
		s, err := toShape(feat.Geometry)
		if err != nil {
			w.Close()
			return err
		}
		row := int(w.Write(s))
		for i, f := range l.Fields {
			if err := writeAttr(w, row, i, f, feat.Attrs[f.Name]); err != nil {
				w.Close()
				return eris.Wrapf(err, "shapes: write %s row %d field %s", path, row, f.Name)
			}
		}
	}
	w.Close()

	cpg := strings.TrimSuffix(path, ".shp") + ".cpg"
	if err := os.WriteFile(cpg, []byte("UTF-8"), 0o644); err != nil {
		return eris.Wrapf(err, "shapes: write %s", cpg)
	}
	return nil
}

func layerShapeType(l *Layer) (shp.ShapeType, error) {
	var st shp.ShapeType
	for _, f := range l.Features {
		var t shp.ShapeType
		switch f.Geometry.(type) {
		case *geom.Point:
			t = shp.POINT
		case *geom.MultiPoint:
			t = shp.MULTIPOINT
		case *geom.LineString, *geom.MultiLineString:
			t = shp.POLYLINE
		case *geom.Polygon, *geom.MultiPolygon:
			t = shp.POLYGON
		case nil:
			continue
		default:
			return 0, eris.Errorf("shapes: cannot write %T", f.Geometry)
		}
		if st != 0 && st != t {
			return 0, eris.Errorf("shapes: mixed geometry types %v and %v", st, t)
		}
		st = t
	}
	if st == 0 {
		st = shp.POINT
	}
	return st, nil
}

func toDBFField(f Field) shp.Field {
	name := f.Name
	if len(name) > maxFieldName {
		name = name[:maxFieldName]
	}
	switch f.Type {
	case 'F', 'N':
		sf := shp.FloatField(name, max(f.Size, 1), f.Decimals)
		sf.Fieldtype = f.Type
		return sf
	case 'L':
		sf := shp.StringField(name, 1)
		sf.Fieldtype = 'L'
		return sf
	default:
		return shp.StringField(name, max(f.Size, 1))
	}
}

func writeAttr(w *shp.Writer, row, i int, f Field, v string) error {
	switch f.Type {
	case 'F', 'N':
		if v == "" {
			return nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return eris.Wrapf(err, "shapes: %q is not numeric", v)
		}
		return w.WriteAttribute(row, i, n)
	case 'L':
		switch strings.ToLower(v) {
		case "true", "t", "1", "yes", "y":
			return w.WriteAttribute(row, i, "T")
		case "":
			return w.WriteAttribute(row, i, "?")
		default:
			return w.WriteAttribute(row, i, "F")
		}
	default:
		return w.WriteAttribute(row, i, v)
	}
}

// fieldSize is the character width for a string field holding v.
func fieldSize(v string) uint8 {
	n := len(v)
	switch {
	case n < 1:
		return 1
	case n > 254:
		return 254
	default:
		return uint8(n)
	}
}
