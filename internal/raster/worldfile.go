package raster

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// worldFileExts are the sidecar extensions tried for a raster path.
var worldFileExts = []string{".tfw", ".tifw", ".wld"}

// ReadWorldFile parses an ESRI world file. World files reference the center
// of the upper-left pixel; the returned transform references its corner.
func ReadWorldFile(path string) (Affine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Affine{}, eris.Wrapf(err, "raster: read world file %s", path)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return Affine{}, eris.Errorf("raster: world file %s has %d values, want 6", path, len(fields))
	}
	var v [6]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Affine{}, eris.Wrapf(err, "raster: parse world file %s line %d", path, i+1)
		}
	}

	// line order: A, D, B, E, C, F
	t := Affine{A: v[0], D: v[1], B: v[2], E: v[3], C: v[4], F: v[5]}
	t.C -= (t.A + t.B) / 2
	t.F -= (t.D + t.E) / 2
	return t, nil
}

// WriteWorldFile writes t as an ESRI world file.
func WriteWorldFile(path string, t Affine) error {
	cx, cy := t.Center(0, 0)
	body := fmt.Sprintf("%.10f\n%.10f\n%.10f\n%.10f\n%.10f\n%.10f\n", t.A, t.D, t.B, t.E, cx, cy)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return eris.Wrapf(err, "raster: write world file %s", path)
	}
	return nil
}

// findWorldFile returns the first existing sidecar for rasterPath.
func findWorldFile(rasterPath string) (string, bool) {
	base := strings.TrimSuffix(rasterPath, filepath.Ext(rasterPath))
	for _, ext := range worldFileExts {
		p := base + ext
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
