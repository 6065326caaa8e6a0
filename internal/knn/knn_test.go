package knn

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearest_Empty(t *testing.T) {
	idx := New(nil)
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.Nearest(0, 0, 3))
}

func TestNearest_InvalidK(t *testing.T) {
	idx := New([][2]float64{{1, 1}})
	assert.Nil(t, idx.Nearest(0, 0, 0))
}

func TestNearest_FewerThanK(t *testing.T) {
	idx := New([][2]float64{{3, 0}, {1, 0}})
	hits := idx.Nearest(0, 0, 5)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Order)
	assert.InDelta(t, 1.0, hits[0].Distance, 1e-12)
	assert.Equal(t, 0, hits[1].Order)
	assert.InDelta(t, 3.0, hits[1].Distance, 1e-12)
}

func TestNearest_TiesBrokenByOrder(t *testing.T) {
	// four points equidistant from the origin
	pts := [][2]float64{{0, 2}, {2, 0}, {0, -2}, {-2, 0}, {5, 5}}
	idx := New(pts)

	hits := idx.Nearest(0, 0, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Order)

	hits = idx.Nearest(0, 0, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{hits[0].Order, hits[1].Order, hits[2].Order})
}

func TestNearest_Duplicates(t *testing.T) {
	idx := New([][2]float64{{1, 1}, {1, 1}, {1, 1}})
	hits := idx.Nearest(1, 1, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Order)
	assert.Equal(t, 1, hits[1].Order)
	assert.Zero(t, hits[0].Distance)
}

func TestNearest_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([][2]float64, 500)
	for i := range pts {
		// integer grid coordinates produce plenty of exact ties
		pts[i] = [2]float64{float64(rng.Intn(40)), float64(rng.Intn(40))}
	}
	idx := New(pts)

	for q := 0; q < 50; q++ {
		x, y := rng.Float64()*40, rng.Float64()*40
		if q%5 == 0 {
			x, y = math.Round(x)+0.5, math.Round(y)
		}
		k := 1 + rng.Intn(8)

		want := bruteForce(pts, x, y, k)
		got := idx.Nearest(x, y, k)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Order, got[i].Order, "query %d rank %d", q, i)
			assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-9)
		}
	}
}

func bruteForce(pts [][2]float64, x, y float64, k int) []Hit {
	hits := make([]Hit, len(pts))
	for i, p := range pts {
		hits[i] = Hit{Order: i, X: p[0], Y: p[1], Distance: math.Sqrt((p[0]-x)*(p[0]-x) + (p[1]-y)*(p[1]-y))}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
