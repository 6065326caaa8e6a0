// Package crs resolves coordinate reference system codes and reprojects
// points and bounds between them.
package crs

import (
	"strings"
	"sync"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// ErrReprojection is returned when no transform path exists between two CRSs.
var ErrReprojection = eris.New("crs: reprojection failed")

// Geographic is the CRS query points and reported coordinates use.
const Geographic = "EPSG:4326"

// builtin holds the proj4 definitions for the CRSs the dataset uses.
var builtin = map[string]string{
	"EPSG:4326": "+proj=longlat +datum=WGS84 +no_defs",
	"EPSG:4269": "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	"EPSG:3338": "+proj=aea +lat_1=55 +lat_2=65 +lat_0=50 +lon_0=-154 +x_0=0 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	"EPSG:3005": "+proj=aea +lat_1=50 +lat_2=58.5 +lat_0=45 +lon_0=-126 +x_0=1000000 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	"EPSG:3578": "+proj=aea +lat_1=61.66666666666666 +lat_2=68 +lat_0=59 +lon_0=-132.5 +x_0=500000 +y_0=500000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	"EPSG:3400": "+proj=tmerc +lat_0=0 +lon_0=-115 +k=0.9992 +x_0=500000 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	"EPSG:3347": "+proj=lcc +lat_1=49 +lat_2=77 +lat_0=63.390675 +lon_0=-91.86666666666666 +x_0=6200000 +y_0=3000000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	"EPSG:3857": "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs",
}

// Registry maps CRS codes to parsed spatial references.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]string
	srs  map[string]*proj.SR
}

// NewRegistry creates a registry seeded with the built-in definitions and
// any extra code→proj4 entries.
func NewRegistry(extra map[string]string) *Registry {
	r := &Registry{
		defs: make(map[string]string, len(builtin)+len(extra)),
		srs:  make(map[string]*proj.SR),
	}
	for code, def := range builtin {
		r.defs[code] = def
	}
	for code, def := range extra {
		r.defs[Normalize(code)] = def
	}
	return r
}

// Normalize canonicalizes a CRS code: "3338", "epsg:3338" and "EPSG:3338"
// all become "EPSG:3338". Proj4 strings are returned trimmed.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "+") {
		return code
	}
	upper := strings.ToUpper(code)
	if upper != "" && strings.Trim(upper, "0123456789") == "" {
		return "EPSG:" + upper
	}
	return upper
}

// Same reports whether two codes refer to the same CRS.
func Same(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Normalize(a) == Normalize(b)
}

// Define registers or replaces a definition.
func (r *Registry) Define(code, def string) {
	code = Normalize(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[code] = def
	delete(r.srs, code)
}

// Known reports whether the code resolves to a definition.
func (r *Registry) Known(code string) bool {
	code = Normalize(code)
	if strings.HasPrefix(code, "+") {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[code]
	return ok
}

// Lookup returns the parsed spatial reference for a code. A raw proj4
// string is accepted in place of a code.
func (r *Registry) Lookup(code string) (*proj.SR, error) {
	code = Normalize(code)

	r.mu.RLock()
	sr, ok := r.srs[code]
	def, known := r.defs[code]
	r.mu.RUnlock()
	if ok {
		return sr, nil
	}

	if !known {
		if !strings.HasPrefix(code, "+") {
			return nil, eris.Wrapf(ErrReprojection, "crs: unknown code %q", code)
		}
		def = code
	}

	sr, err := proj.Parse(def)
	if err != nil {
		return nil, eris.Wrapf(ErrReprojection, "crs: parse %s: %v", code, err)
	}

	r.mu.Lock()
	r.srs[code] = sr
	r.mu.Unlock()
	return sr, nil
}
