// Package knn is a static two-dimensional nearest-neighbor index whose
// results are ordered deterministically by distance and then by the order in
// which points were added.
package knn

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Hit is one neighbor returned by Nearest.
type Hit struct {
	Order    int     `json:"order"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Distance float64 `json:"distance"`
}

// Index is an immutable kd-tree over planar points. It is safe for
// concurrent queries.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// New builds an index over pts. The position of each point in pts is its
// order, used to break distance ties.
func New(pts [][2]float64) *Index {
	ps := make(points, len(pts))
	for i, p := range pts {
		ps[i] = point{x: p[0], y: p[1], order: i}
	}
	idx := &Index{n: len(ps)}
	if len(ps) > 0 {
		idx.tree = kdtree.New(ps, false)
	}
	return idx
}

// Len returns the number of indexed points.
func (idx *Index) Len() int {
	return idx.n
}

// Nearest returns up to k points closest to (x, y), sorted by distance and
// then by order. Every point tied with the k-th distance is considered
// before truncation, so the lowest orders win ties.
func (idx *Index) Nearest(x, y float64, k int) []Hit {
	if k < 1 || idx.tree == nil {
		return nil
	}
	q := point{x: x, y: y, order: -1}

	nk := kdtree.NewNKeeper(k)
	idx.tree.NearestSet(nk, q)
	found := collect(nk.Heap)

	if len(found) == k {
		kth := 0.0
		for _, cd := range found {
			kth = math.Max(kth, cd.Dist)
		}
		dk := kdtree.NewDistKeeper(kth * (1 + 1e-9))
		idx.tree.NearestSet(dk, q)
		found = collect(dk.Heap)
	}

	hits := make([]Hit, len(found))
	for i, cd := range found {
		p := cd.Comparable.(point)
		hits[i] = Hit{Order: p.order, X: p.x, Y: p.y, Distance: math.Sqrt(cd.Dist)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Order < hits[j].Order
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// collect drops the keeper's sentinel entries.
func collect(h kdtree.Heap) []kdtree.ComparableDist {
	out := make([]kdtree.ComparableDist, 0, len(h))
	for _, cd := range h {
		if cd.Comparable != nil {
			out = append(out, cd)
		}
	}
	return out
}

type point struct {
	x, y  float64
	order int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	if d == 0 {
		return p.x - q.x
	}
	return p.y - q.y
}

func (p point) Dims() int { return 2 }

// Distance is the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Pivot(d kdtree.Dim) int                { return plane{points: p, dim: d}.Pivot() }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts points along one dimension for median partitioning.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	if p.dim == 0 {
		return p.points[i].x < p.points[j].x
	}
	return p.points[i].y < p.points[j].y
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}
