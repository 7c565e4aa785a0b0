package field

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FieldStats summarizes the anisotropy of a grid.
type FieldStats struct {
	// Voxels is the total number of cells
	Voxels int

	// Directional is the number of cells with FA > 0
	Directional int

	// MeanFA, StdDevFA, MedianFA and MaxFA are computed over directional
	// cells only. All are 0 when there are none.
	MeanFA   float64
	StdDevFA float64
	MedianFA float64
	MaxFA    float64
}

// Stats computes FieldStats for g.
func Stats(g *Grid) FieldStats {
	s := FieldStats{Voxels: g.Len()}

	fa := make([]float64, 0, g.Len())
	for _, v := range g.cells {
		if v.FA > 0 {
			fa = append(fa, float64(v.FA))
		}
	}
	s.Directional = len(fa)
	if len(fa) == 0 {
		return s
	}

	s.MeanFA, s.StdDevFA = stat.MeanStdDev(fa, nil)
	if len(fa) < 2 {
		s.StdDevFA = 0
	}
	sort.Float64s(fa)
	s.MedianFA = stat.Quantile(0.5, stat.Empirical, fa, nil)
	s.MaxFA = floats.Max(fa)
	return s
}
