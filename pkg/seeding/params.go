// Package seeding searches a directional grid for good streamline seeding
// points.
//
// The search is greedy: each round simulates a streamline from every
// candidate lattice point and accepts the best scoring one. Later rounds
// reject candidates whose streamline enters a voxel visited by an accepted
// streamline, which spreads the seeds over distinct tracts.
package seeding

import (
	"runtime"

	"github.com/pkg/errors"
)

var (
	// ErrStepSize is returned when the lattice step does not fit the grid.
	ErrStepSize = errors.New("seeding: step size must be at least 1 and below half the smallest grid dimension")

	// ErrInvalidParams is returned for negative counts or a non-positive
	// streamline length.
	ErrInvalidParams = errors.New("seeding: invalid search parameters")
)

// Params are the tunables of Search.
type Params struct {
	// NumPoints is how many seeds to look for
	NumPoints int

	// StepSize is the spacing of the candidate lattice
	StepSize int

	// FAAreaThreshold is the minimum product of FA over the 2x2x2
	// neighborhood of a candidate
	FAAreaThreshold float64

	// MaxSteps bounds the length of a simulated streamline
	MaxSteps int

	// NumWorkers is the number of goroutines scanning candidates within a
	// round. Values below 1 use all CPUs.
	NumWorkers int
}

// DefaultParams returns the default search parameters.
func DefaultParams() Params {
	return Params{
		NumPoints:       10,
		StepSize:        2,
		FAAreaThreshold: 0.01,
		MaxSteps:        1000,
		NumWorkers:      runtime.NumCPU(),
	}
}

// Validate checks p against a grid of the given dimensions.
func (p Params) Validate(width, height, depth int) error {
	if p.NumPoints < 0 {
		return errors.Wrapf(ErrInvalidParams, "number of points %d", p.NumPoints)
	}
	if p.MaxSteps < 1 {
		return errors.Wrapf(ErrInvalidParams, "max steps %d", p.MaxSteps)
	}
	smallest := width
	if height < smallest {
		smallest = height
	}
	if depth < smallest {
		smallest = depth
	}
	if p.StepSize < 1 || float64(p.StepSize) >= float64(smallest)/2 {
		return errors.Wrapf(ErrStepSize, "step %d for grid %dx%dx%d", p.StepSize, width, height, depth)
	}
	return nil
}
