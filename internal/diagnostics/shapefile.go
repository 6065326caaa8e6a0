// Package diagnostics writes the intermediate products of nearest-cell
// searches to disk for inspection in a GIS.
package diagnostics

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/nearest"
	"github.com/placekit/placekit/internal/raster"
	"github.com/placekit/placekit/internal/shapes"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ShapefileObserver writes, for every query, the searched windows as TIFFs
// and the candidates and neighbors as point shapefiles. Failures are logged
// and never reach the search.
type ShapefileObserver struct {
	dir string

	mu      sync.Mutex
	windows map[string]int
}

var _ nearest.Observer = (*ShapefileObserver)(nil)

// NewShapefileObserver creates dir if needed.
func NewShapefileObserver(dir string) (*ShapefileObserver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "diagnostics: create %s", dir)
	}
	return &ShapefileObserver{dir: dir, windows: make(map[string]int)}, nil
}

// Dir returns the output directory.
func (o *ShapefileObserver) Dir() string { return o.dir }

// OnWindow writes window_<id>.tif for the first window of a query and
// window_<id>_<n>.tif for each fallback window after it.
func (o *ShapefileObserver) OnWindow(loc model.Location, data *raster.WindowData) {
	key := fileKey(loc)

	o.mu.Lock()
	n := o.windows[key]
	o.windows[key] = n + 1
	o.mu.Unlock()

	name := "window_" + key
	if n > 0 {
		name += "_" + strconv.Itoa(n)
	}
	path := filepath.Join(o.dir, name+".tif")
	if err := raster.WriteWindowTIFF(path, data); err != nil {
		zap.L().Warn("diagnostics: write window", zap.String("path", path), zap.Error(err))
	}
}

// OnCandidates writes candidates_<id>.shp.
func (o *ShapefileObserver) OnCandidates(loc model.Location, searchCRS string, cands []nearest.Candidate) {
	l := &shapes.Layer{
		Fields: []shapes.Field{
			{Name: "order", Type: 'N', Size: 10},
			{Name: "row", Type: 'N', Size: 10},
			{Name: "col", Type: 'N', Size: 10},
			shapes.FloatField("value", 4),
		},
		CRS: searchCRS,
	}
	for _, c := range cands {
		l.Features = append(l.Features, shapes.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{c.X, c.Y}),
			Attrs: map[string]string{
				"order": strconv.Itoa(c.Order),
				"row":   strconv.Itoa(c.Row),
				"col":   strconv.Itoa(c.Col),
				"value": strconv.FormatFloat(c.Value, 'f', -1, 64),
			},
		})
	}
	o.write("candidates_"+fileKey(loc), l)
}

// OnNeighbors writes neighbors_<id>.shp with the query point as rank 0.
func (o *ShapefileObserver) OnNeighbors(loc model.Location, searchCRS string, res *nearest.NeighborResult) {
	l := &shapes.Layer{
		Fields: []shapes.Field{
			{Name: "rank", Type: 'N', Size: 4},
			shapes.FloatField("distance", 1),
			shapes.FloatField("lat", 6),
			shapes.FloatField("lon", 6),
		},
		CRS: searchCRS,
	}
	l.Features = append(l.Features, shapes.Feature{
		Geometry: geom.NewPointFlat(geom.XY, []float64{res.Query.X, res.Query.Y}),
		Attrs: map[string]string{
			"rank":     "0",
			"distance": "0",
			"lat":      strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			"lon":      strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
		},
	})
	for _, nb := range res.Neighbors {
		if nb.Missing {
			continue
		}
		l.Features = append(l.Features, shapes.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{nb.X, nb.Y}),
			Attrs: map[string]string{
				"rank":     strconv.Itoa(nb.Rank),
				"distance": strconv.FormatFloat(nb.Distance, 'f', -1, 64),
				"lat":      strconv.FormatFloat(nb.Lat, 'f', -1, 64),
				"lon":      strconv.FormatFloat(nb.Lon, 'f', -1, 64),
			},
		})
	}
	o.write("neighbors_"+fileKey(loc), l)
}

func (o *ShapefileObserver) write(name string, l *shapes.Layer) {
	path := filepath.Join(o.dir, name+".shp")
	if err := shapes.Write(path, l); err != nil {
		zap.L().Warn("diagnostics: write shapefile", zap.String("path", path), zap.Error(err))
	}
}

// fileKey is the location id made safe for a file name.
func fileKey(loc model.Location) string {
	key := loc.ID
	if key == "" {
		key = loc.Name
	}
	key = unsafeChars.ReplaceAllString(key, "_")
	if key == "" {
		return "query"
	}
	return key
}
