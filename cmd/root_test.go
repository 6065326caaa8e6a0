package main

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/placekit/placekit/internal/config"
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/nearest"
	"github.com/placekit/placekit/internal/points"
	"github.com/placekit/placekit/internal/raster"
	"github.com/placekit/placekit/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"nearest", "coastal", "tag", "add", "specialchars", "smallpolys", "shadow", "dropparts", "simplify", "export", "merge", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "placekit", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("catalog"))
}

func TestNearestCommand_Flags(t *testing.T) {
	for _, name := range []string{"k", "value", "band", "half-size", "crs", "region", "raster-crs", "fallback", "prefix", "filter", "on-error", "debug", "xy"} {
		assert.NotNil(t, nearestCmd.Flags().Lookup(name), "nearest should have --%s flag", name)
	}
	assert.Equal(t, "16384", nearestCmd.Flags().Lookup("half-size").DefValue)
	assert.Equal(t, "none", nearestCmd.Flags().Lookup("fallback").DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}

// parsedNearest returns a fresh command carrying the nearest flags, parsed
// from args.
func parsedNearest(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "nearest"}
	addNearestFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func baseSearch() config.SearchConfig {
	return config.SearchConfig{
		Band: 1, Values: []float64{0, 255}, K: 1, HalfSizeM: 16384,
		CRS: "EPSG:3338", Fallback: "none", MaxFallbackSteps: 8, Decimals: 4,
	}
}

func TestSearchConfig_Defaults(t *testing.T) {
	sc, err := searchConfig(parsedNearest(t), baseSearch())
	require.NoError(t, err)
	assert.Equal(t, 1, sc.K)
	assert.Equal(t, []float64{0, 255}, sc.Accepted)
	assert.Equal(t, nearest.FallbackNone, sc.Fallback)
	assert.Equal(t, "EPSG:3338", sc.CRS)
	assert.Empty(t, sc.QueryCRS)
}

func TestSearchConfig_FlagsOverride(t *testing.T) {
	cmd := parsedNearest(t, "--k", "3", "--value", "1", "--value", "2", "--fallback", "grow", "--half-size", "500", "--crs", "EPSG:3005", "--query-crs", "EPSG:3338")
	sc, err := searchConfig(cmd, baseSearch())
	require.NoError(t, err)
	assert.Equal(t, 3, sc.K)
	assert.Equal(t, []float64{1, 2}, sc.Accepted)
	assert.Equal(t, nearest.FallbackGrow, sc.Fallback)
	assert.InDelta(t, 500.0, sc.HalfSizeM, 1e-9)
	assert.Equal(t, "EPSG:3005", sc.CRS)
	assert.Equal(t, "EPSG:3338", sc.QueryCRS)
}

func TestSearchConfig_BadFallback(t *testing.T) {
	_, err := searchConfig(parsedNearest(t, "--fallback", "spiral"), baseSearch())
	require.Error(t, err)
	assert.True(t, errors.Is(err, nearest.ErrInvalidConfiguration))

	base := baseSearch()
	base.Fallback = "sideways"
	_, err = searchConfig(parsedNearest(t), base)
	assert.Error(t, err)
}

func TestRowFilter(t *testing.T) {
	tbl := points.NewTable("id", "name", "latitude", "longitude", "inside")
	tbl.Rows = [][]string{
		{"AK1", "a", "1", "1", "True"},
		{"AK2", "b", "2", "2", "False"},
	}

	f, err := rowFilter("", tbl, nil, nearest.SearchConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = rowFilter("column:inside", tbl, nil, nearest.SearchConfig{})
	require.NoError(t, err)
	assert.True(t, f(0, model.Location{}))
	assert.False(t, f(1, model.Location{}))

	_, err = rowFilter("column:missing", tbl, nil, nearest.SearchConfig{})
	assert.Error(t, err)

	_, err = rowFilter("random", tbl, nil, nearest.SearchConfig{})
	assert.Error(t, err)
}

func TestAppendNeighbors(t *testing.T) {
	tbl := points.NewTable("id", "name")
	tbl.Rows = [][]string{{"AK1", "a"}, {"AK2", "b"}}

	outcomes := []nearest.RowOutcome{
		{Row: 0, Status: model.RowStatusOK, Result: &nearest.NeighborResult{
			Neighbors: []nearest.Neighbor{{Rank: 1, Lat: 61.5, Lon: -150.25}},
		}},
		{Row: 1, Status: model.RowStatusSkipped},
	}
	out, err := appendNeighbors(tbl, nearest.Columns{Prefix: "ocean", K: 1}, outcomes)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "ocean_lat1", "ocean_lon1", "ocean_status"}, out.Header)
	assert.Equal(t, []string{"AK1", "a", "61.5", "-150.25", "ok"}, out.Rows[0])
	assert.Equal(t, []string{"AK2", "b", "", "", "skipped"}, out.Rows[1])
	assert.Len(t, tbl.Header, 2, "input table untouched")
}

func TestRunRows(t *testing.T) {
	rows := runRows([]nearest.RowOutcome{
		{Row: 0, Location: model.Location{ID: "AK1", Name: "a"}, Status: model.RowStatusPartial, Result: &nearest.NeighborResult{
			Neighbors: []nearest.Neighbor{{Rank: 1}, {Rank: 2, Missing: true}},
		}},
		{Row: 1, Location: model.Location{ID: "AK2", Name: "b"}, Status: model.RowStatusError, Err: errors.New("outside")},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Row)
	assert.Equal(t, 1, rows[0].Found)
	assert.Equal(t, "outside", rows[1].Error)
	assert.Equal(t, model.RowStatusError, rows[1].Status)
}

func TestTagTargets(t *testing.T) {
	c := &config.Config{
		Points: config.PointsConfig{Dir: "data"},
		Regions: map[string]config.RegionConfig{
			"AK": {Name: "Alaska", File: "alaska_point_locations.csv", Tags: []string{"ncr", "eds"}},
			"YT": {Name: "Yukon", File: "yukon_point_locations.csv", Tags: []string{"ncr"}},
			"ZZ": {Name: "Nowhere"},
		},
	}

	all, err := tagTargets(c, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, filepath.Join("data", "alaska_point_locations.csv"), all[0].path)
	assert.Equal(t, []string{"ncr", "eds"}, all[0].tags)

	one, err := tagTargets(c, []string{"/tmp/yukon_point_locations.csv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ncr"}, one[0].tags)

	_, err = tagTargets(c, []string{"mars_point_locations.csv"})
	assert.Error(t, err)
}

func TestRegionFileAndCountry(t *testing.T) {
	c := &config.Config{Points: config.PointsConfig{Dir: "pts"}}
	assert.Equal(t, filepath.Join("pts", "british_columbia_point_locations.csv"), regionFile(c, config.RegionConfig{Name: "British Columbia"}))
	assert.Equal(t, filepath.Join("pts", "ak.csv"), regionFile(c, config.RegionConfig{Name: "Alaska", File: "ak.csv"}))
	assert.Equal(t, "US", defaultCountry("ak"))
	assert.Equal(t, "CA", defaultCountry("YT"))
}

func TestParseAreaInput(t *testing.T) {
	in, err := parseAreaInput("parks.shp:EPSG:3338:protected_area:National Park")
	require.NoError(t, err)
	assert.Equal(t, "parks.shp", in.Path)
	assert.Equal(t, "EPSG:3338", in.CRS)
	assert.Equal(t, "protected_area", in.Type)
	assert.Equal(t, "National Park", in.AreaType)

	in, err = parseAreaInput("basins.shp:4326:watershed:HUC8")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", in.CRS)

	_, err = parseAreaInput("basins.shp:4326")
	assert.Error(t, err)
}

// writeWaterRaster writes a 5x5 grayscale TIFF with 1 km pixels and a world
// file, with one water cell at row 2, col 4.
func writeWaterRaster(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 5, 5))
	img.Pix[2*img.Stride+4] = 1

	path := filepath.Join(dir, "water.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())
	require.NoError(t, raster.WriteWorldFile(filepath.Join(dir, "water.tfw"), raster.NorthUp(0, 5000, 1000, 1000)))
	return path
}

func TestNearestCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	dbPath := filepath.Join(dir, "runs.db")
	t.Setenv("PLACEKIT_STORE_PATH", dbPath)
	t.Setenv("PLACEKIT_LOG_LEVEL", "error")

	rasterPath := writeWaterRaster(t, dir)
	pointsPath := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(pointsPath, []byte("id,name,latitude,longitude\nAK1,Inside,2500,2500\nAK2,Outside,90000,90000\n"), 0o644))
	outPath := filepath.Join(dir, "out.csv")

	rootCmd.SetArgs([]string{
		"nearest", pointsPath, rasterPath, outPath,
		"--raster-crs", "EPSG:3338",
		"--query-crs", "EPSG:3338",
		"--value", "1",
		"--half-size", "2500",
		"--k", "2",
		"--on-error", "mark",
		"--prefix", "ocean",
		"--xy",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	out, err := points.ReadCSV(outPath)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "2500", out.Get(0, "ocean_lat1"))
	assert.Equal(t, "4500", out.Get(0, "ocean_lon1"))
	assert.Equal(t, "4500", out.Get(0, "ocean_x1"))
	assert.Equal(t, "", out.Get(0, "ocean_lat2"))
	assert.Equal(t, "partial", out.Get(0, "ocean_status"))
	assert.Equal(t, "error", out.Get(1, "ocean_status"))

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	ctx := context.Background()

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "nearest", runs[0].Command)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, model.RunCounts{Total: 2, Partial: 1, Failed: 1}, runs[0].Counts)

	failed, err := st.ListRows(ctx, runs[0].ID, model.RowStatusError)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "AK2", failed[0].ID)
}
