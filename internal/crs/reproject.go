package crs

import (
	"math"
	"sync"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// Bounds is an axis-aligned box in some CRS.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Contains reports whether (x, y) lies inside or on the box.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Reprojector transforms coordinates between registered CRSs. Transforms
// are built once per CRS pair and reused.
type Reprojector struct {
	reg *Registry

	mu         sync.Mutex
	transforms map[[2]string]proj.Transformer
}

// NewReprojector creates a Reprojector backed by reg.
func NewReprojector(reg *Registry) *Reprojector {
	return &Reprojector{
		reg:        reg,
		transforms: make(map[[2]string]proj.Transformer),
	}
}

// Registry returns the registry the reprojector resolves codes against.
func (r *Reprojector) Registry() *Registry {
	return r.reg
}

// Transformer returns the transform from one CRS to another.
func (r *Reprojector) Transformer(from, to string) (proj.Transformer, error) {
	key := [2]string{Normalize(from), Normalize(to)}

	r.mu.Lock()
	t, ok := r.transforms[key]
	r.mu.Unlock()
	if ok {
		return t, nil
	}

	src, err := r.reg.Lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := r.reg.Lookup(to)
	if err != nil {
		return nil, err
	}
	t, err = src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(ErrReprojection, "crs: transform %s -> %s: %v", key[0], key[1], err)
	}

	r.mu.Lock()
	r.transforms[key] = t
	r.mu.Unlock()
	return t, nil
}

// Reproject transforms a single coordinate. Geographic coordinates are
// (lon, lat) in degrees.
func (r *Reprojector) Reproject(x, y float64, from, to string) (float64, float64, error) {
	if Same(from, to) {
		return x, y, nil
	}
	t, err := r.Transformer(from, to)
	if err != nil {
		return 0, 0, err
	}
	ox, oy, err := t(x, y)
	if err != nil {
		return 0, 0, eris.Wrapf(ErrReprojection, "crs: reproject (%f, %f): %v", x, y, err)
	}
	if math.IsNaN(ox) || math.IsNaN(oy) || math.IsInf(ox, 0) || math.IsInf(oy, 0) {
		return 0, 0, eris.Wrapf(ErrReprojection, "crs: reproject (%f, %f) produced non-finite result", x, y)
	}
	return ox, oy, nil
}

// TransformBounds reprojects a box by sampling densify points along each
// edge and taking the envelope of the results.
func (r *Reprojector) TransformBounds(b Bounds, from, to string, densify int) (Bounds, error) {
	if Same(from, to) {
		return b, nil
	}
	if densify < 0 {
		densify = 0
	}

	out := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	steps := densify + 1
	sample := func(x, y float64) error {
		ox, oy, err := r.Reproject(x, y, from, to)
		if err != nil {
			return err
		}
		out.MinX = math.Min(out.MinX, ox)
		out.MinY = math.Min(out.MinY, oy)
		out.MaxX = math.Max(out.MaxX, ox)
		out.MaxY = math.Max(out.MaxY, oy)
		return nil
	}

	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		for _, p := range [][2]float64{
			{x, b.MinY}, {x, b.MaxY}, {b.MinX, y}, {b.MaxX, y},
		} {
			if err := sample(p[0], p[1]); err != nil {
				return Bounds{}, err
			}
		}
	}
	return out, nil
}
