package seeding

import (
	"gonum.org/v1/gonum/spatial/r3"

	"dtiseed/pkg/field"
)

// trailSet is the set of voxel indices visited by accepted streamlines.
type trailSet map[int]struct{}

func (s trailSet) add(trail []int) {
	for _, idx := range trail {
		s[idx] = struct{}{}
	}
}

func (s trailSet) contains(idx int) bool {
	_, ok := s[idx]
	return ok
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// snap returns the flat index of the voxel containing pos. Coordinates are
// truncated and clamped to the grid.
func snap(g *field.Grid, pos r3.Vec) int {
	w, h, d := g.Dims()
	return g.Index(
		clamp(int(pos.X), 0, w-1),
		clamp(int(pos.Y), 0, h-1),
		clamp(int(pos.Z), 0, d-1),
	)
}

// coherence returns the product of FA over the 2x2x2 block whose upper
// corner is (x, y, z).
func coherence(g *field.Grid, x, y, z int) float64 {
	w, h, d := g.Dims()
	product := 1.0
	for dx := -1; dx <= 0; dx++ {
		for dy := -1; dy <= 0; dy++ {
			for dz := -1; dz <= 0; dz++ {
				v := g.At(clamp(x+dx, 0, w-1), clamp(y+dy, 0, h-1), clamp(z+dz, 0, d-1))
				product *= float64(v.FA)
			}
		}
	}
	return product
}

// trace integrates a streamline from start with Euler steps of length FA
// along the local direction and returns the visited voxels and the total
// displacement. It reports false when the streamline enters a voxel in
// visited or a voxel without anisotropy.
func trace(g *field.Grid, start r3.Vec, maxSteps int, visited trailSet) (trail []int, disp r3.Vec, ok bool) {
	trail = make([]int, 0, 64)
	for step := 0; step < maxSteps; step++ {
		idx := snap(g, r3.Add(start, disp))
		trail = append(trail, idx)
		if visited.contains(idx) {
			return trail, disp, false
		}
		v := g.AtIndex(idx)
		if v.FA == 0 {
			return trail, disp, false
		}
		dir := r3.Vec{X: float64(v.DirX), Y: float64(v.DirY), Z: float64(v.DirZ)}
		disp = r3.Add(disp, r3.Scale(float64(v.FA), dir))
	}
	return trail, disp, true
}
