package raster

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"
)

// WriteWindowTIFF writes a window as a 16-bit grayscale TIFF with a world
// file sidecar. Values are clamped to 0..65535.
func WriteWindowTIFF(path string, d *WindowData) error {
	if d == nil || d.Window.Empty() {
		return eris.New("raster: nothing to write")
	}

	img := image.NewGray16(image.Rect(0, 0, d.Window.Width, d.Window.Height))
	for r := 0; r < d.Window.Height; r++ {
		for c := 0; c < d.Window.Width; c++ {
			v := math.Round(d.At(r, c))
			v = math.Max(0, math.Min(65535, v))
			i := img.PixOffset(c, r)
			img.Pix[i] = uint8(uint16(v) >> 8)
			img.Pix[i+1] = uint8(uint16(v))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "raster: encode %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", path)
	}

	wf := strings.TrimSuffix(path, filepath.Ext(path)) + ".tfw"
	return WriteWorldFile(wf, d.Transform)
}
