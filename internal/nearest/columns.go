package nearest

import (
	"strconv"
)

// Columns names the output columns appended for a batch.
type Columns struct {
	Prefix string
	K      int
	// Projected adds {prefix}_x{i} and {prefix}_y{i} in the search CRS.
	Projected bool
}

// Names returns the column names in output order: per rank the latitude,
// longitude and optional projected pair, then {prefix}_status.
func (c Columns) Names() []string {
	p := c.prefix()
	var names []string
	for i := 1; i <= c.K; i++ {
		n := strconv.Itoa(i)
		names = append(names, p+"_lat"+n, p+"_lon"+n)
		if c.Projected {
			names = append(names, p+"_x"+n, p+"_y"+n)
		}
	}
	return append(names, p+"_status")
}

// Values renders one outcome in the order of Names. Missing ranks and
// skipped or failed rows leave their cells blank.
func (c Columns) Values(o RowOutcome) []string {
	per := 2
	if c.Projected {
		per = 4
	}
	vals := make([]string, c.K*per+1)
	vals[len(vals)-1] = string(o.Status)
	if o.Result == nil {
		return vals
	}

	for i, nb := range o.Result.Neighbors {
		if i >= c.K || nb.Missing {
			continue
		}
		base := i * per
		vals[base] = formatFloat(nb.Lat)
		vals[base+1] = formatFloat(nb.Lon)
		if c.Projected {
			vals[base+2] = formatFloat(round(nb.X, 1))
			vals[base+3] = formatFloat(round(nb.Y, 1))
		}
	}
	return vals
}

func (c Columns) prefix() string {
	if c.Prefix == "" {
		return "nn"
	}
	return c.Prefix
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
