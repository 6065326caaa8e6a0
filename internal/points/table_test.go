package points

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alaskaCSV = `id,name,alt_name,region,country,latitude,longitude,km_distance_to_ocean
AK1,Anchorage,,Alaska,US,61.2181,-149.9003,0
AK12,Utqiaġvik,Barrow,Alaska,US,71.2906,-156.7886,0
AK3,Fairbanks,,Alaska,US,64.8378,-147.7164,290.4
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV(writeFile(t, "alaska_point_locations.csv", alaskaCSV))
	require.NoError(t, err)

	assert.Equal(t, DefaultHeader, tbl.Header)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "Utqiaġvik", tbl.Get(1, ColName))
	assert.Equal(t, "", tbl.Get(1, "missing"))
}

func TestReadCSV_ShortRowsPadded(t *testing.T) {
	tbl, err := ReadCSV(writeFile(t, "short.csv", "\ufeffid,name,latitude\nAK1,Anchorage\n"))
	require.NoError(t, err)
	assert.Equal(t, "id", tbl.Header[0])
	assert.Equal(t, []string{"AK1", "Anchorage", ""}, tbl.Rows[0])
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)

	_, err = ReadCSV(writeFile(t, "empty.csv", ""))
	assert.Error(t, err)
}

func TestLocations(t *testing.T) {
	tbl, err := ReadCSV(writeFile(t, "ak.csv", alaskaCSV))
	require.NoError(t, err)

	locs, err := tbl.Locations()
	require.NoError(t, err)
	require.Len(t, locs, 3)
	assert.Equal(t, "AK12", locs[1].ID)
	assert.InDelta(t, 71.2906, locs[1].Latitude, 1e-9)
	assert.InDelta(t, -156.7886, locs[1].Longitude, 1e-9)

	tbl.Rows[0][tbl.Index(ColLatitude)] = "north"
	_, err = tbl.Locations()
	assert.Error(t, err)

	_, err = NewTable("id", "name").Locations()
	assert.Error(t, err)
}

func TestSetColumnKeepsRowOrder(t *testing.T) {
	tbl, err := ReadCSV(writeFile(t, "ak.csv", alaskaCSV))
	require.NoError(t, err)

	require.NoError(t, tbl.SetColumn("ocean_lat1", []string{"1", "2", "3"}))
	assert.Equal(t, "ocean_lat1", tbl.Header[len(tbl.Header)-1])
	assert.Equal(t, "AK1", tbl.Get(0, ColID))
	assert.Equal(t, "3", tbl.Get(2, "ocean_lat1"))

	require.NoError(t, tbl.SetColumn("ocean_lat1", []string{"a", "b", "c"}))
	assert.Len(t, tbl.Header, len(DefaultHeader)+1)
	assert.Equal(t, "b", tbl.Get(1, "ocean_lat1"))

	assert.Error(t, tbl.SetColumn("x", []string{"only one"}))
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl, err := ReadCSV(writeFile(t, "ak.csv", alaskaCSV))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, tbl.Write(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, alaskaCSV, string(data))
}

func TestXLSXRoundTrip(t *testing.T) {
	tbl, err := ReadCSV(writeFile(t, "ak.csv", alaskaCSV))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ak.xlsx")
	require.NoError(t, tbl.Write(path))

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Header, back.Header)
	require.Len(t, back.Rows, 3)
	assert.Equal(t, "Utqiaġvik", back.Get(1, ColName))
	assert.Equal(t, "-149.9003", back.Get(0, ColLongitude))

	_, err = ReadXLSX(path, 3)
	assert.Error(t, err)
}

func TestBoolColumn(t *testing.T) {
	tbl := NewTable("id", "is_coastal")
	tbl.Append(map[string]string{"id": "a", "is_coastal": "True"})
	tbl.Append(map[string]string{"id": "b", "is_coastal": ""})
	tbl.Append(map[string]string{"id": "c", "is_coastal": "0"})

	vals, err := tbl.BoolColumn("is_coastal")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, vals)

	tbl.Set(2, "is_coastal", "maybe")
	_, err = tbl.BoolColumn("is_coastal")
	assert.Error(t, err)

	_, err = tbl.BoolColumn("nope")
	assert.Error(t, err)
}

func TestAppendAddsColumnsInNameOrder(t *testing.T) {
	tbl := NewTable("id")
	tbl.Append(map[string]string{"id": "1", "zeta": "z", "alpha": "a"})
	assert.Equal(t, []string{"id", "alpha", "zeta"}, tbl.Header)
	assert.Equal(t, "a,z", strings.Join(tbl.Rows[0][1:], ","))
}

func TestFormatCoord(t *testing.T) {
	assert.Equal(t, "61.2181", FormatCoord(61.21814, 4))
	assert.Equal(t, "-150", FormatCoord(-149.99999, 4))
	assert.Equal(t, "0", FormatCoord(-0.00001, 4))
	assert.Equal(t, "12.5", FormatCoord(12.5, 4))
}
