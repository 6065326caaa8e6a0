// Package points reads, edits and writes the point-location tables: one CSV
// per region with at least id, name, latitude and longitude columns.
package points

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/placekit/placekit/internal/model"
)

// Standard column names.
const (
	ColID        = "id"
	ColName      = "name"
	ColAltName   = "alt_name"
	ColRegion    = "region"
	ColCountry   = "country"
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
	ColOcean     = "km_distance_to_ocean"
	ColCoastal   = "is_coastal"
	ColTags      = "tags"
)

// Table is a header plus rows of string cells. Every row has exactly one
// cell per header column.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable creates an empty table with the given header.
func NewTable(header ...string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// Read loads a table from a .csv or .xlsx file.
func Read(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, 0)
	default:
		return ReadCSV(path)
	}
}

// ReadCSV loads a table from a CSV file whose first row is the header.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "points: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := parseCSV(f)
	if err != nil {
		return nil, eris.Wrapf(err, "points: read %s", path)
	}
	return t, nil
}

func parseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "points: parse csv")
	}
	if len(records) == 0 {
		return nil, eris.New("points: csv has no header")
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return fromRecords(header, records[1:]), nil
}

// ReadXLSX loads a table from one sheet of a workbook.
func ReadXLSX(path string, sheetIndex int) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "points: open %s", path)
	}
	if sheetIndex < 0 || sheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("points: sheet index %d out of range (file has %d sheets)", sheetIndex, len(f.Sheets))
	}

	var records [][]string
	for _, row := range f.Sheets[sheetIndex].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("points: %s has no header row", path)
	}
	return fromRecords(records[0], records[1:]), nil
}

func fromRecords(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		if len(r) == 1 && r[0] == "" {
			continue
		}
		row := make([]string, len(header))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Write saves the table as .xlsx or CSV depending on the extension.
func (t *Table) Write(path string) error {
	if strings.ToLower(filepath.Ext(path)) == ".xlsx" {
		return t.WriteXLSX(path, "points")
	}
	return t.WriteCSV(path)
}

// WriteCSV saves the table as CSV.
func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "points: create %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "points: write header %s", path)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "points: write rows %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "points: close %s", path)
	}
	return nil
}

// WriteXLSX saves the table as a single-sheet workbook.
func (t *Table) WriteXLSX(path, sheetName string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "points: add sheet %s", sheetName)
	}
	for _, r := range append([][]string{t.Header}, t.Rows...) {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "points: save %s", path)
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := &Table{Header: append([]string(nil), t.Header...), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		c.Rows[i] = append([]string(nil), r...)
	}
	return c
}

// Index returns the position of a column, or -1.
func (t *Table) Index(col string) int {
	for i, h := range t.Header {
		if h == col {
			return i
		}
	}
	return -1
}

// Get returns a cell, or "" when the column does not exist.
func (t *Table) Get(row int, col string) string {
	i := t.Index(col)
	if i < 0 {
		return ""
	}
	return t.Rows[row][i]
}

// EnsureColumn appends an empty column if it does not exist and returns
// its position.
func (t *Table) EnsureColumn(col string) int {
	if i := t.Index(col); i >= 0 {
		return i
	}
	t.Header = append(t.Header, col)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Header) - 1
}

// Set writes a cell, adding the column if needed.
func (t *Table) Set(row int, col, val string) {
	i := t.EnsureColumn(col)
	t.Rows[row][i] = val
}

// SetColumn replaces or appends a whole column. Existing rows keep their
// order.
func (t *Table) SetColumn(col string, vals []string) error {
	if len(vals) != len(t.Rows) {
		return eris.Errorf("points: column %s has %d values for %d rows", col, len(vals), len(t.Rows))
	}
	i := t.EnsureColumn(col)
	for r, v := range vals {
		t.Rows[r][i] = v
	}
	return nil
}

// Append adds a row given as column → value. Unknown columns are added in
// name order.
func (t *Table) Append(values map[string]string) {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		t.EnsureColumn(col)
	}
	row := make([]string, len(t.Header))
	for i, h := range t.Header {
		row[i] = values[h]
	}
	t.Rows = append(t.Rows, row)
}

// Locations parses the id, name, latitude and longitude of every row.
func (t *Table) Locations() ([]model.Location, error) {
	cols := make(map[string]int, 4)
	for _, c := range []string{ColID, ColName, ColLatitude, ColLongitude} {
		i := t.Index(c)
		if i < 0 {
			return nil, eris.Errorf("points: missing column %q", c)
		}
		cols[c] = i
	}

	locs := make([]model.Location, len(t.Rows))
	for r, row := range t.Rows {
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[cols[ColLatitude]]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "points: row %d latitude", r+1)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[cols[ColLongitude]]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "points: row %d longitude", r+1)
		}
		locs[r] = model.Location{
			ID:        row[cols[ColID]],
			Name:      row[cols[ColName]],
			Latitude:  lat,
			Longitude: lon,
		}
	}
	return locs, nil
}

// Bool parses a boolean cell. Blank cells are false.
func (t *Table) Bool(row int, col string) (bool, error) {
	if t.Index(col) < 0 {
		return false, eris.Errorf("points: missing column %q", col)
	}
	v := strings.TrimSpace(strings.ToLower(t.Get(row, col)))
	switch v {
	case "", "0", "false", "f", "no", "n":
		return false, nil
	case "1", "true", "t", "yes", "y":
		return true, nil
	}
	return false, eris.Errorf("points: row %d column %s: %q is not a boolean", row+1, col, v)
}

// BoolColumn parses a whole boolean column.
func (t *Table) BoolColumn(col string) ([]bool, error) {
	out := make([]bool, len(t.Rows))
	for r := range t.Rows {
		b, err := t.Bool(r, col)
		if err != nil {
			return nil, err
		}
		out[r] = b
	}
	return out, nil
}

// FormatCoord renders a coordinate rounded to decimals places with no
// trailing zeros.
func FormatCoord(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}
