package points

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CoordDecimals is the precision stored for latitude and longitude.
const CoordDecimals = 4

// DefaultHeader is the column layout of a region CSV.
var DefaultHeader = []string{
	ColID, ColName, ColAltName, ColRegion, ColCountry, ColLatitude, ColLongitude, ColOcean,
}

// NextID returns the next free id for a region: the region code followed by
// one more than the largest numeric suffix already in use.
func NextID(t *Table, region string) (string, error) {
	region = strings.ToUpper(strings.TrimSpace(region))
	col := t.Index(ColID)
	if col < 0 {
		return "", eris.Errorf("points: missing column %q", ColID)
	}

	last := 0
	for _, row := range t.Rows {
		id := row[col]
		if len(id) <= len(region) || !strings.EqualFold(id[:len(region)], region) {
			continue
		}
		n, err := strconv.Atoi(id[len(region):])
		if err != nil {
			continue
		}
		last = max(last, n)
	}
	return region + strconv.Itoa(last+1), nil
}

// Record is a new point location.
type Record struct {
	Name       string
	AltName    string
	Region     string // postal code, e.g. AK
	RegionName string // long name, e.g. Alaska
	Country    string
	Latitude   float64
	Longitude  float64
}

// Validate checks the fields a new record must carry.
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return eris.New("points: record name is required")
	case r.Region == "":
		return eris.New("points: record region is required")
	case r.Country != "US" && r.Country != "CA":
		return eris.Errorf("points: country must be US or CA, got %q", r.Country)
	case r.Latitude < -90 || r.Latitude > 90:
		return eris.Errorf("points: latitude %v out of range", r.Latitude)
	case r.Longitude < -180 || r.Longitude > 180:
		return eris.Errorf("points: longitude %v out of range", r.Longitude)
	}
	return nil
}

// AddRecord returns a copy of t with rec appended under a fresh id and the
// rows sorted by name. The coastal distance starts at 0 for a later
// coastal pass.
func AddRecord(t *Table, rec Record) (*Table, string, error) {
	if err := rec.Validate(); err != nil {
		return nil, "", err
	}
	out := t.Clone()
	if len(out.Header) == 0 {
		out.Header = append([]string(nil), DefaultHeader...)
	}
	id, err := NextID(out, rec.Region)
	if err != nil {
		return nil, "", err
	}

	values := map[string]string{
		ColID:        id,
		ColName:      rec.Name,
		ColAltName:   rec.AltName,
		ColRegion:    rec.RegionName,
		ColCountry:   rec.Country,
		ColLatitude:  FormatCoord(rec.Latitude, CoordDecimals),
		ColLongitude: FormatCoord(rec.Longitude, CoordDecimals),
	}
	if out.Index(ColOcean) >= 0 {
		values[ColOcean] = "0"
	}
	out.Append(values)
	SortByName(out)

	zap.L().Info("points: record added",
		zap.String("id", id),
		zap.String("name", rec.Name),
	)
	return out, id, nil
}

// SortByName orders rows by name, stable for equal names. Names compare by
// the root collation so accented names sort beside their plain forms.
func SortByName(t *Table) {
	col := t.Index(ColName)
	if col < 0 {
		return
	}
	c := collate.New(language.Und)
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return c.CompareString(t.Rows[i][col], t.Rows[j][col]) < 0
	})
}

// Diff returns the rows present in only one of the two tables, prefixed
// with "-" for removed and "+" for added.
func Diff(before, after *Table) []string {
	key := func(r []string) string { return strings.Join(r, "\x1f") }

	seen := make(map[string]int, len(before.Rows))
	for _, r := range before.Rows {
		seen[key(r)]++
	}
	var added []string
	for _, r := range after.Rows {
		k := key(r)
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		added = append(added, "+ "+strings.Join(r, ","))
	}

	var out []string
	for _, r := range before.Rows {
		k := key(r)
		if seen[k] > 0 {
			seen[k]--
			out = append(out, "- "+strings.Join(r, ","))
		}
	}
	return append(out, added...)
}

// BackupPath is where WriteWithBackup keeps the previous file.
func BackupPath(path string) string {
	return strings.TrimSuffix(path, ".csv") + "_DEPRECATED.csv"
}

// WriteWithBackup copies the existing file at path to BackupPath(path),
// overwriting any earlier backup, then writes t in its place.
func WriteWithBackup(t *Table, path string) (string, error) {
	backup := BackupPath(path)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := os.WriteFile(backup, data, 0o644); err != nil {
			return "", eris.Wrapf(err, "points: write backup %s", backup)
		}
	case os.IsNotExist(err):
		backup = ""
	default:
		return "", eris.Wrapf(err, "points: read %s", path)
	}

	if err := t.WriteCSV(path); err != nil {
		return "", err
	}
	return backup, nil
}

// ApplyTags replaces the tags column of every row with the comma-joined
// tags.
func ApplyTags(t *Table, tags []string) {
	joined := strings.Join(tags, ",")
	col := t.EnsureColumn(ColTags)
	for _, row := range t.Rows {
		row[col] = joined
	}
}

// SpecialRow is a row with non-ASCII text in a checked column.
type SpecialRow struct {
	Row        int    `json:"row"`
	ID         string `json:"id"`
	Column     string `json:"column"`
	Value      string `json:"value"`
	Suggestion string `json:"suggestion"`
}

// HasSpecial reports whether s contains any non-ASCII rune.
func HasSpecial(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// Fold strips diacritics, e.g. "Déline" becomes "Deline". Runes with no
// ASCII decomposition are kept.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// FindSpecialCharacters lists rows whose name columns hold non-ASCII text.
// With no columns given, name and alt_name are checked.
func FindSpecialCharacters(t *Table, cols ...string) []SpecialRow {
	if len(cols) == 0 {
		cols = []string{ColName, ColAltName}
	}
	var out []SpecialRow
	for r := range t.Rows {
		for _, c := range cols {
			if t.Index(c) < 0 {
				continue
			}
			v := t.Get(r, c)
			if !HasSpecial(v) {
				continue
			}
			out = append(out, SpecialRow{
				Row:        r,
				ID:         t.Get(r, ColID),
				Column:     c,
				Value:      v,
				Suggestion: Fold(v),
			})
		}
	}
	return out
}

// RegionFileName is the CSV file name for a region's long name, e.g.
// "British Columbia" → "british_columbia_point_locations.csv".
func RegionFileName(regionName string) string {
	lower := cases.Lower(language.Und).String(regionName)
	return strings.ReplaceAll(lower, " ", "_") + "_point_locations.csv"
}
