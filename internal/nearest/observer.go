package nearest

import (
	"github.com/placekit/placekit/internal/model"
	"github.com/placekit/placekit/internal/raster"
)

// Observer receives the intermediate products of each query. Observers must
// not modify what they are given; their only effect is outside the search.
type Observer interface {
	OnWindow(loc model.Location, data *raster.WindowData)
	OnCandidates(loc model.Location, searchCRS string, cands []Candidate)
	OnNeighbors(loc model.Location, searchCRS string, res *NeighborResult)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnWindow(model.Location, *raster.WindowData)         {}
func (NopObserver) OnCandidates(model.Location, string, []Candidate)    {}
func (NopObserver) OnNeighbors(model.Location, string, *NeighborResult) {}
