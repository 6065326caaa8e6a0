package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/tiff/lzw"
)

// TIFF compression, predictor and sample format codes.
const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflateX = 32946

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// GeoTIFF is a raster read lazily from a TIFF file. Only the strips or
// tiles a window touches are read and decoded, so memory stays bounded by
// the window, not the raster. Reads go through ReadAt and may run
// concurrently.
type GeoTIFF struct {
	path      string
	file      *os.File
	order     binary.ByteOrder
	bigEndian bool

	width, height int
	bands         int
	bytesPer      int
	format        uint64
	planar        bool
	compression   uint64
	predictor     uint64

	tiled          bool
	blockW, blockH int
	across, down   int
	offsets        []uint64
	counts         []uint64

	transform Affine
	crs       string
	nodata    *float64
}

// Option configures a GeoTIFF.
type Option func(*GeoTIFF)

// WithCRS sets the raster CRS, overriding anything declared in the file.
func WithCRS(code string) Option {
	return func(g *GeoTIFF) {
		if code != "" {
			g.crs = code
		}
	}
}

// WithTransform sets the grid transform, overriding the file's georeference.
func WithTransform(t Affine) Option {
	return func(g *GeoTIFF) {
		g.transform = t
	}
}

// WithNoData sets the nodata sentinel.
func WithNoData(v float64) Option {
	return func(g *GeoTIFF) {
		g.nodata = &v
	}
}

// OpenGeoTIFF opens a GeoTIFF for windowed reads. Georeferencing comes from
// the GeoTIFF model tags, else from a world file sidecar; options override
// both. The caller must Close the raster.
func OpenGeoTIFF(path string, opts ...Option) (*GeoTIFF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	g, err := openGeoTIFF(f, path, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return g, nil
}

func openGeoTIFF(f *os.File, path string, opts []Option) (*GeoTIFF, error) {
	dir, err := readDir(f)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	g := &GeoTIFF{path: path, file: f, order: dir.order, bigEndian: dir.order == binary.BigEndian}
	if err := g.layout(dir); err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}

	tags, err := dir.georef()
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	t, ok := tags.affine()
	if !ok {
		if wf, found := findWorldFile(path); found {
			t, err = ReadWorldFile(wf)
			if err != nil {
				return nil, err
			}
			ok = true
		}
	}
	g.transform = t
	g.crs = tags.crsCode()
	if nd, has := tags.noDataValue(); has {
		g.nodata = &nd
	}
	for _, opt := range opts {
		opt(g)
	}
	if !ok && g.transform == (Affine{}) {
		return nil, eris.Errorf("raster: %s has no georeferencing", path)
	}

	zap.L().Debug("raster: opened",
		zap.String("path", path),
		zap.Int("width", g.width),
		zap.Int("height", g.height),
		zap.Int("bands", g.bands),
		zap.Int("block_width", g.blockW),
		zap.Int("block_height", g.blockH),
		zap.Uint64("compression", g.compression),
		zap.String("crs", g.crs),
	)
	return g, nil
}

// layout reads the pixel layout tags and checks they can be decoded.
func (g *GeoTIFF) layout(dir *tiffDir) error {
	w, err := dir.first(tagImageWidth, 0)
	if err != nil {
		return err
	}
	h, err := dir.first(tagImageLength, 0)
	if err != nil {
		return err
	}
	if w == 0 || h == 0 || w > 1<<31 || h > 1<<31 {
		return eris.Errorf("raster: invalid size %dx%d", w, h)
	}
	g.width, g.height = int(w), int(h)

	spp, err := dir.first(tagSamplesPerPixel, 1)
	if err != nil {
		return err
	}
	if spp == 0 || spp > 1<<16 {
		return eris.Errorf("raster: invalid samples per pixel %d", spp)
	}
	g.bands = int(spp)

	bits, err := uniform(dir, tagBitsPerSample, 1, g.bands)
	if err != nil {
		return err
	}
	switch bits {
	case 8, 16, 32, 64:
		g.bytesPer = int(bits / 8)
	default:
		return eris.Errorf("raster: unsupported bits per sample %d", bits)
	}

	if g.format, err = uniform(dir, tagSampleFormat, sampleUint, g.bands); err != nil {
		return err
	}
	switch g.format {
	case sampleUint, sampleInt:
	case sampleFloat:
		if g.bytesPer < 4 {
			return eris.Errorf("raster: unsupported %d-bit float samples", bits)
		}
	default:
		return eris.Errorf("raster: unsupported sample format %d", g.format)
	}

	planar, err := dir.first(tagPlanarConfig, 1)
	if err != nil {
		return err
	}
	g.planar = planar == 2 && g.bands > 1

	if g.compression, err = dir.first(tagCompression, compressionNone); err != nil {
		return err
	}
	switch g.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateX, compressionPackBits:
	default:
		return eris.Errorf("raster: unsupported compression %d", g.compression)
	}

	if g.predictor, err = dir.first(tagPredictor, predictorNone); err != nil {
		return err
	}
	switch {
	case g.predictor == predictorNone:
	case g.predictor == predictorHorizontal && g.format != sampleFloat:
	case g.predictor == predictorFloat && g.format == sampleFloat:
	default:
		return eris.Errorf("raster: unsupported predictor %d for sample format %d", g.predictor, g.format)
	}

	var offTag, countTag uint16
	if dir.has(tagTileWidth) {
		tw, err := dir.first(tagTileWidth, 0)
		if err != nil {
			return err
		}
		th, err := dir.first(tagTileLength, 0)
		if err != nil {
			return err
		}
		if tw == 0 || th == 0 || tw > 1<<16 || th > 1<<16 {
			return eris.Errorf("raster: invalid tile size %dx%d", tw, th)
		}
		g.tiled = true
		g.blockW, g.blockH = int(tw), int(th)
		offTag, countTag = tagTileOffsets, tagTileByteCounts
	} else {
		rps, err := dir.first(tagRowsPerStrip, h)
		if err != nil {
			return err
		}
		if rps == 0 || rps > h {
			rps = h
		}
		g.blockW, g.blockH = g.width, int(rps)
		offTag, countTag = tagStripOffsets, tagStripByteCounts
	}
	g.across = (g.width + g.blockW - 1) / g.blockW
	g.down = (g.height + g.blockH - 1) / g.blockH

	if g.offsets, err = dir.uints(offTag); err != nil {
		return err
	}
	if g.counts, err = dir.uints(countTag); err != nil {
		return err
	}
	want := g.across * g.down
	if g.planar {
		want *= g.bands
	}
	if len(g.offsets) < want || len(g.counts) < want {
		return eris.Errorf("raster: %d blocks declared, %d needed", min(len(g.offsets), len(g.counts)), want)
	}
	return nil
}

// uniform returns the value of a per-sample tag, which must be the same
// for every sample.
func uniform(dir *tiffDir, tag uint16, def uint64, samples int) (uint64, error) {
	vs, err := dir.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return def, nil
	}
	for _, v := range vs[:min(len(vs), samples)] {
		if v != vs[0] {
			return 0, eris.Errorf("raster: tag %d differs between samples: %v", tag, vs)
		}
	}
	return vs[0], nil
}

// Close releases the file handle.
func (g *GeoTIFF) Close() error {
	return g.file.Close()
}

func (g *GeoTIFF) Path() string      { return g.path }
func (g *GeoTIFF) Width() int        { return g.width }
func (g *GeoTIFF) Height() int       { return g.height }
func (g *GeoTIFF) BandCount() int    { return g.bands }
func (g *GeoTIFF) Transform() Affine { return g.transform }
func (g *GeoTIFF) CRS() string       { return g.crs }

func (g *GeoTIFF) NoData() (float64, bool) {
	if g.nodata == nil {
		return 0, false
	}
	return *g.nodata, true
}

// ReadWindow decodes the blocks that intersect w and copies out one band.
func (g *GeoTIFF) ReadWindow(band int, w Window) (*WindowData, error) {
	if err := checkWindow(g, band, w); err != nil {
		return nil, err
	}

	samplesPerBlock, sample := g.bands, band-1
	if g.planar {
		samplesPerBlock, sample = 1, 0
	}

	vals := make([]float64, w.Width*w.Height)
	bx0, bx1 := w.ColOff/g.blockW, (w.ColOff+w.Width-1)/g.blockW
	by0, by1 := w.RowOff/g.blockH, (w.RowOff+w.Height-1)/g.blockH
	for by := by0; by <= by1; by++ {
		rows := g.blockH
		if !g.tiled {
			rows = min(g.blockH, g.height-by*g.blockH)
		}
		for bx := bx0; bx <= bx1; bx++ {
			idx := by*g.across + bx
			if g.planar {
				idx += (band - 1) * g.across * g.down
			}
			buf, err := g.block(idx, rows, samplesPerBlock)
			if err != nil {
				return nil, err
			}

			x0, y0 := bx*g.blockW, by*g.blockH
			c0, c1 := max(w.ColOff, x0), min(w.ColOff+w.Width, x0+g.blockW)
			r0, r1 := max(w.RowOff, y0), min(w.RowOff+w.Height, y0+rows)
			for r := r0; r < r1; r++ {
				out := vals[(r-w.RowOff)*w.Width:]
				for c := c0; c < c1; c++ {
					if buf == nil {
						out[c-w.ColOff] = g.fill()
						continue
					}
					i := ((r-y0)*g.blockW+(c-x0))*samplesPerBlock + sample
					out[c-w.ColOff] = g.sample(buf, i)
				}
			}
		}
	}
	return windowData(g, band, w, vals), nil
}

// fill is the value of pixels in blocks the file leaves out.
func (g *GeoTIFF) fill() float64 {
	if g.nodata != nil {
		return *g.nodata
	}
	return 0
}

// block reads and decodes one strip or tile. A block stored with zero
// length returns nil.
func (g *GeoTIFF) block(idx, rows, samples int) ([]byte, error) {
	off, n := g.offsets[idx], g.counts[idx]
	if n == 0 {
		return nil, nil
	}
	sr := io.NewSectionReader(g.file, int64(off), int64(n))

	var r io.Reader = sr
	switch g.compression {
	case compressionLZW:
		lr := lzw.NewReader(sr, lzw.MSB, 8)
		defer lr.Close() //nolint:errcheck
		r = lr
	case compressionDeflate, compressionDeflateX:
		zr, err := zlib.NewReader(sr)
		if err != nil {
			return nil, eris.Wrapf(ErrRasterRead, "raster: inflate block %d of %s: %v", idx, g.path, err)
		}
		defer zr.Close() //nolint:errcheck
		r = zr
	case compressionPackBits:
		packed := make([]byte, n)
		if _, err := io.ReadFull(sr, packed); err != nil {
			return nil, eris.Wrapf(ErrRasterRead, "raster: read block %d of %s: %v", idx, g.path, err)
		}
		r = bytes.NewReader(unpackBits(packed))
	}

	buf := make([]byte, g.blockW*rows*samples*g.bytesPer)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, eris.Wrapf(ErrRasterRead, "raster: decode block %d of %s: %v", idx, g.path, err)
	}
	g.unpredict(buf, rows, samples)
	return buf, nil
}

// unpredict reverses the TIFF differencing predictors in place.
func (g *GeoTIFF) unpredict(buf []byte, rows, samples int) {
	rowSamples := g.blockW * samples
	rowBytes := rowSamples * g.bytesPer
	switch g.predictor {
	case predictorHorizontal:
		for r := 0; r < rows; r++ {
			row := buf[r*rowBytes : (r+1)*rowBytes]
			for i := samples; i < rowSamples; i++ {
				j := i - samples
				switch g.bytesPer {
				case 1:
					row[i] += row[j]
				case 2:
					g.order.PutUint16(row[i*2:], g.order.Uint16(row[i*2:])+g.order.Uint16(row[j*2:]))
				case 4:
					g.order.PutUint32(row[i*4:], g.order.Uint32(row[i*4:])+g.order.Uint32(row[j*4:]))
				case 8:
					g.order.PutUint64(row[i*8:], g.order.Uint64(row[i*8:])+g.order.Uint64(row[j*8:]))
				}
			}
		}
	case predictorFloat:
		planes := make([]byte, rowBytes)
		for r := 0; r < rows; r++ {
			row := buf[r*rowBytes : (r+1)*rowBytes]
			for i := samples; i < rowBytes; i++ {
				row[i] += row[i-samples]
			}
			// bytes are stored as planes, most significant first
			copy(planes, row)
			for s := 0; s < rowSamples; s++ {
				for b := 0; b < g.bytesPer; b++ {
					v := planes[b*rowSamples+s]
					if g.bigEndian {
						row[s*g.bytesPer+b] = v
					} else {
						row[s*g.bytesPer+g.bytesPer-1-b] = v
					}
				}
			}
		}
	}
}

// sample decodes sample i of a block.
func (g *GeoTIFF) sample(buf []byte, i int) float64 {
	b := buf[i*g.bytesPer:]
	switch g.format {
	case sampleFloat:
		if g.bytesPer == 4 {
			return float64(math.Float32frombits(g.order.Uint32(b)))
		}
		return math.Float64frombits(g.order.Uint64(b))
	case sampleInt:
		switch g.bytesPer {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(g.order.Uint16(b)))
		case 4:
			return float64(int32(g.order.Uint32(b)))
		default:
			return float64(int64(g.order.Uint64(b)))
		}
	default:
		switch g.bytesPer {
		case 1:
			return float64(b[0])
		case 2:
			return float64(g.order.Uint16(b))
		case 4:
			return float64(g.order.Uint32(b))
		default:
			return float64(g.order.Uint64(b))
		}
	}
}

// unpackBits expands PackBits run-length data.
func unpackBits(src []byte) []byte {
	var dst []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := min(i+n+1, len(src))
			dst = append(dst, src[i:end]...)
			i = end
		case n != -128:
			if i >= len(src) {
				return dst
			}
			for j := 0; j < 1-n; j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst
}
