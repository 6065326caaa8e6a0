package coastal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/placekit/placekit/internal/crs"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/points"
	"github.com/placekit/placekit/internal/shapes"
)

func coastline() *shapes.Layer {
	return &shapes.Layer{
		Fields: []shapes.Field{shapes.StringField("featurecla", 9)},
		Features: []shapes.Feature{
			{
				Geometry: geom.NewLineStringFlat(geom.XY, []float64{-150, 60, -151, 60, -152, 59.5}),
				Attrs:    map[string]string{"featurecla": "Coastline"},
			},
			{
				Geometry: geom.NewLineStringFlat(geom.XY, []float64{-120, 30, -121, 31}),
				Attrs:    map[string]string{"featurecla": "Coastline"},
			},
		},
	}
}

func options() Options {
	return Options{CRS: "EPSG:3338", MinLat: 40, MaxLat: 84, ThresholdKM: 100}
}

func reprojector() *crs.Reprojector {
	return crs.NewReprojector(crs.NewRegistry(nil))
}

func TestNew_FiltersByLatitude(t *testing.T) {
	c, err := New(coastline(), reprojector(), options())
	require.NoError(t, err)
	assert.Equal(t, 3, c.Vertices())
}

func TestNew_NothingInRange(t *testing.T) {
	opts := options()
	opts.MinLat = 70
	_, err := New(coastline(), reprojector(), opts)
	assert.Error(t, err)
}

func TestNew_RequiresCRS(t *testing.T) {
	_, err := New(coastline(), reprojector(), Options{MinLat: 40, MaxLat: 84})
	assert.Error(t, err)
}

func TestDistanceKM(t *testing.T) {
	c, err := New(coastline(), reprojector(), options())
	require.NoError(t, err)

	d, err := c.DistanceKM(model.Location{Latitude: 60, Longitude: -150})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-9)

	d, err = c.DistanceKM(model.Location{Latitude: 61, Longitude: -150})
	require.NoError(t, err)
	assert.InDelta(t, 111.2, d, 1.5)
	assert.InDelta(t, d, float64(int(d*10+0.5))/10, 1e-9, "rounded to 0.1 km")
}

func TestLoadAndAnnotate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coast.shp")
	require.NoError(t, shapes.Write(path, coastline()))

	c, err := Load(path, reprojector(), options())
	require.NoError(t, err)

	tbl := points.NewTable("id", "name", "latitude", "longitude", "km_distance_to_ocean")
	tbl.Rows = [][]string{
		{"AK1", "Shore", "60", "-150", "0"},
		{"AK2", "Inland", "61", "-150", "0"},
	}

	n, err := Annotate(tbl, c, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "0.0", tbl.Get(0, points.ColOcean))
	assert.Equal(t, "True", tbl.Get(0, points.ColCoastal))
	assert.Equal(t, "False", tbl.Get(1, points.ColCoastal))
	assert.Equal(t, []string{"id", "name", "latitude", "longitude", "km_distance_to_ocean", "is_coastal"}, tbl.Header)
}

func TestAnnotate_BadRow(t *testing.T) {
	c, err := New(coastline(), reprojector(), options())
	require.NoError(t, err)

	tbl := points.NewTable("id", "name", "latitude", "longitude")
	tbl.Rows = [][]string{{"AK1", "x", "north", "-150"}}
	_, err = Annotate(tbl, c, 100)
	assert.Error(t, err)
}
