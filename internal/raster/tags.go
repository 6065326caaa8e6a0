package raster

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Baseline TIFF tags describing the pixel layout.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
)

// GeoTIFF tags and keys.
const (
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	tagGDALNoData         = 42113
	keyRasterType         = 1025
	keyGeographicType     = 2048
	keyProjectedCSType    = 3072
	rasterPixelIsPoint    = 2
	userDefinedGeoKeyCode = 32767
)

// field type sizes in bytes, indexed by TIFF type code.
var typeSizes = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 16: 8, 17: 8, 18: 8,
}

const maxIFDEntries = 4096

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	raw   []byte // inline value field, 4 bytes (classic) or 8 (BigTIFF)
}

// tiffDir is the first image file directory of a classic or BigTIFF file.
// Values stored outside the entry are fetched on demand with ReadAt.
type tiffDir struct {
	r       io.ReaderAt
	order   binary.ByteOrder
	big     bool
	entries map[uint16]ifdEntry
}

// readDir parses the TIFF header and the first IFD.
func readDir(r io.ReaderAt) (*tiffDir, error) {
	header := make([]byte, 16)
	n, err := r.ReadAt(header, 0)
	if n < 8 {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, eris.Wrap(err, "raster: read tiff header")
	}

	d := &tiffDir{r: r, entries: make(map[uint16]ifdEntry)}
	switch {
	case header[0] == 'I' && header[1] == 'I':
		d.order = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		d.order = binary.BigEndian
	default:
		return nil, eris.New("raster: not a tiff file")
	}

	var ifdOff uint64
	switch d.order.Uint16(header[2:4]) {
	case 42:
		ifdOff = uint64(d.order.Uint32(header[4:8]))
	case 43:
		if n < 16 || d.order.Uint16(header[4:6]) != 8 {
			return nil, eris.New("raster: malformed bigtiff header")
		}
		d.big = true
		ifdOff = d.order.Uint64(header[8:16])
	default:
		return nil, eris.New("raster: unsupported tiff variant")
	}

	countSize, entrySize := 2, 12
	if d.big {
		countSize, entrySize = 8, 20
	}
	cb := make([]byte, countSize)
	if _, err := r.ReadAt(cb, int64(ifdOff)); err != nil {
		return nil, eris.Wrap(err, "raster: read ifd count")
	}
	var count uint64
	if d.big {
		count = d.order.Uint64(cb)
	} else {
		count = uint64(d.order.Uint16(cb))
	}
	if count == 0 || count > maxIFDEntries {
		return nil, eris.Errorf("raster: ifd has %d entries", count)
	}

	buf := make([]byte, int(count)*entrySize)
	if _, err := r.ReadAt(buf, int64(ifdOff)+int64(countSize)); err != nil {
		return nil, eris.Wrap(err, "raster: read ifd entries")
	}
	for i := 0; i < int(count); i++ {
		b := buf[i*entrySize : (i+1)*entrySize]
		e := ifdEntry{tag: d.order.Uint16(b[0:2]), typ: d.order.Uint16(b[2:4])}
		if d.big {
			e.count = d.order.Uint64(b[4:12])
			e.raw = b[12:20]
		} else {
			e.count = uint64(d.order.Uint32(b[4:8]))
			e.raw = b[8:12]
		}
		d.entries[e.tag] = e
	}
	return d, nil
}

func (d *tiffDir) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// bytes returns the raw value bytes of a tag, following the offset when
// the value does not fit inline. A missing tag returns nil.
func (d *tiffDir) bytes(tag uint16) ([]byte, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	size, known := typeSizes[e.typ]
	if !known {
		return nil, eris.Errorf("raster: tag %d has unknown type %d", e.tag, e.typ)
	}
	total := size * e.count
	if total > 1<<30 {
		return nil, eris.Errorf("raster: tag %d is %d bytes", e.tag, total)
	}
	if total <= uint64(len(e.raw)) {
		return e.raw[:total], nil
	}

	var off uint64
	if d.big {
		off = d.order.Uint64(e.raw)
	} else {
		off = uint64(d.order.Uint32(e.raw))
	}
	data := make([]byte, total)
	if _, err := d.r.ReadAt(data, int64(off)); err != nil {
		return nil, eris.Wrapf(err, "raster: read tag %d", e.tag)
	}
	return data, nil
}

// uints decodes an integer-valued tag.
func (d *tiffDir) uints(tag uint16) ([]uint64, error) {
	data, err := d.bytes(tag)
	if err != nil || data == nil {
		return nil, err
	}
	typ := d.entries[tag].typ
	var out []uint64
	switch typ {
	case 1:
		out = make([]uint64, len(data))
		for i, b := range data {
			out[i] = uint64(b)
		}
	case 3:
		out = make([]uint64, len(data)/2)
		for i := range out {
			out[i] = uint64(d.order.Uint16(data[i*2:]))
		}
	case 4:
		out = make([]uint64, len(data)/4)
		for i := range out {
			out[i] = uint64(d.order.Uint32(data[i*4:]))
		}
	case 16:
		out = make([]uint64, len(data)/8)
		for i := range out {
			out[i] = d.order.Uint64(data[i*8:])
		}
	default:
		return nil, eris.Errorf("raster: tag %d has non-integer type %d", tag, typ)
	}
	return out, nil
}

// first returns the first value of an integer tag, or def when it is absent.
func (d *tiffDir) first(tag uint16, def uint64) (uint64, error) {
	vs, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return def, nil
	}
	return vs[0], nil
}

func (d *tiffDir) doubles(tag uint16) ([]float64, error) {
	data, err := d.bytes(tag)
	if err != nil || data == nil {
		return nil, err
	}
	if typ := d.entries[tag].typ; typ != 12 {
		return nil, eris.Errorf("raster: tag %d has type %d, want DOUBLE", tag, typ)
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(data[i*8:]))
	}
	return out, nil
}

// geoTags holds the georeferencing tags found in a TIFF.
type geoTags struct {
	pixelScale []float64
	tiepoints  []float64
	transform  []float64
	geoKeys    []uint16
	noData     string
}

// georef collects the GeoTIFF georeferencing tags of the directory.
func (d *tiffDir) georef() (*geoTags, error) {
	g := &geoTags{}
	var err error
	if g.pixelScale, err = d.doubles(tagModelPixelScale); err != nil {
		return nil, err
	}
	if g.tiepoints, err = d.doubles(tagModelTiepoint); err != nil {
		return nil, err
	}
	if g.transform, err = d.doubles(tagModelTransform); err != nil {
		return nil, err
	}
	keys, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		g.geoKeys = append(g.geoKeys, uint16(k))
	}
	nd, err := d.bytes(tagGDALNoData)
	if err != nil {
		return nil, err
	}
	g.noData = strings.TrimSpace(strings.TrimRight(string(nd), "\x00"))
	return g, nil
}

// geoKey looks up a SHORT-valued key in the GeoKey directory.
func (g *geoTags) geoKey(id uint16) (uint16, bool) {
	if len(g.geoKeys) < 4 {
		return 0, false
	}
	numKeys := int(g.geoKeys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(g.geoKeys) {
			break
		}
		if g.geoKeys[base] == id && g.geoKeys[base+1] == 0 {
			return g.geoKeys[base+3], true
		}
	}
	return 0, false
}

// affine derives the grid transform from the model tags.
func (g *geoTags) affine() (Affine, bool) {
	if len(g.transform) >= 16 {
		m := g.transform
		return Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}, true
	}
	if len(g.pixelScale) < 2 || len(g.tiepoints) < 6 {
		return Affine{}, false
	}

	sx, sy := g.pixelScale[0], g.pixelScale[1]
	i, j := g.tiepoints[0], g.tiepoints[1]
	x, y := g.tiepoints[3], g.tiepoints[4]
	t := Affine{A: sx, C: x - i*sx, E: -sy, F: y + j*sy}

	if rt, ok := g.geoKey(keyRasterType); ok && rt == rasterPixelIsPoint {
		t.C -= sx / 2
		t.F += sy / 2
	}
	return t, true
}

// crsCode returns the EPSG code declared in the GeoKey directory.
func (g *geoTags) crsCode() string {
	for _, key := range []uint16{keyProjectedCSType, keyGeographicType} {
		if v, ok := g.geoKey(key); ok && v != 0 && v != userDefinedGeoKeyCode {
			return "EPSG:" + strconv.Itoa(int(v))
		}
	}
	return ""
}

// noDataValue parses the GDAL nodata tag.
func (g *geoTags) noDataValue() (float64, bool) {
	if g.noData == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(g.noData, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
