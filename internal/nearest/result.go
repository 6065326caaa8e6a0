package nearest

import (
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/raster"
)

// Candidate is a matching pixel, located by its centroid in the search CRS.
// Order is its position in row-major read order of the window it came from.
type Candidate struct {
	Order int     `json:"order"`
	Row   int     `json:"row"`
	Col   int     `json:"col"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value float64 `json:"value"`
}

// Neighbor is one rank of a result. Missing ranks carry no coordinates.
type Neighbor struct {
	Rank     int     `json:"rank"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance float64 `json:"distance"`
	Missing  bool    `json:"missing"`
}

// NeighborResult holds the k ranks found for one query, nearest first.
// Neighbors always has length k.
type NeighborResult struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Query         model.ProjectedPoint `json:"query"`
	Neighbors     []Neighbor           `json:"neighbors"`
	Windows       []raster.Window      `json:"windows"`
	Candidates    int                  `json:"candidates"`
	FallbackSteps int                  `json:"fallback_steps"`
}

// Found returns the number of populated ranks.
func (r *NeighborResult) Found() int {
	n := 0
	for _, nb := range r.Neighbors {
		if !nb.Missing {
			n++
		}
	}
	return n
}

// Status classifies the result as ok, partial or empty.
func (r *NeighborResult) Status() model.RowStatus {
	switch found := r.Found(); {
	case found == 0:
		return model.RowStatusEmpty
	case found < len(r.Neighbors):
		return model.RowStatusPartial
	default:
		return model.RowStatusOK
	}
}
