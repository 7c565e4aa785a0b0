package field

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"dtiseed/internal/models"
)

// BuildOptions controls Build.
type BuildOptions struct {
	// FAEpsilon is the anisotropy at or below which a voxel is treated as
	// isotropic and gets no direction. Default 0.
	FAEpsilon float64

	// NumWorkers is the number of goroutines computing z-planes. Values
	// below 1 use all CPUs.
	NumWorkers int

	// StrictShape turns a shape mismatch warning into ErrShapeMismatch.
	StrictShape bool
}

// DefaultBuildOptions returns the default options.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{NumWorkers: runtime.NumCPU()}
}

// ShapeReport is the outcome of comparing the sample array against the
// declared grid shape.
type ShapeReport struct {
	// Expected is width*height*depth*Channels
	Expected int

	// Available is the number of samples supplied
	Available int

	// HighestIndex is the highest sample index read while building
	HighestIndex int

	// Warning describes the mismatch, empty when the shape is consistent
	Warning string
}

// OK reports whether the sample array matched the declared grid.
func (r ShapeReport) OK() bool {
	return r.Warning == ""
}

func checkShape(width, height, depth, available int) ShapeReport {
	expected := width * height * depth * Channels
	report := ShapeReport{
		Expected:     expected,
		Available:    available,
		HighestIndex: expected - 1,
	}
	if report.HighestIndex < available-1 {
		report.Warning = fmt.Sprintf(
			"highest sample index read was %d but %d samples were supplied; width/height/depth are probably wrong",
			report.HighestIndex, available)
	}
	return report
}

// Build computes the directional grid of a tensor volume. samples holds
// Channels floats per voxel in depth-outermost order.
//
// A sample array shorter than the grid needs is an error. A longer one is
// reported through the returned ShapeReport, or as ErrShapeMismatch when
// opts.StrictShape is set.
func Build(samples []float32, width, height, depth int, opts BuildOptions) (*Grid, ShapeReport, error) {
	if err := checkDims(width, height, depth); err != nil {
		return nil, ShapeReport{}, err
	}
	report := checkShape(width, height, depth, len(samples))
	if len(samples) < report.Expected {
		return nil, report, errors.Wrapf(ErrShortSamples,
			"grid %dx%dx%d needs %d samples, got %d", width, height, depth, report.Expected, len(samples))
	}
	if !report.OK() && opts.StrictShape {
		return nil, report, errors.Wrap(ErrShapeMismatch, report.Warning)
	}

	numWorkers := opts.NumWorkers
	if numWorkers < 1 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > depth {
		numWorkers = depth
	}

	cells := make([]models.Voxel, width*height*depth)
	planeErrs := make([]error, numWorkers)

	// each worker owns the planes z = w, w+numWorkers, ... so writes never overlap
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for z := worker; z < depth; z += numWorkers {
				if err := buildPlane(samples, cells, z, width, height, opts.FAEpsilon); err != nil {
					planeErrs[worker] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for _, err := range planeErrs {
		if err != nil {
			return nil, report, err
		}
	}

	return &Grid{width: width, height: height, depth: depth, cells: cells}, report, nil
}

func buildPlane(samples []float32, cells []models.Voxel, z, width, height int, faEpsilon float64) error {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			offset := z*height*width*Channels + y*width*Channels + x*Channels
			v, err := Analyze(samples[offset:offset+Channels], faEpsilon)
			if err != nil {
				return errors.Wrapf(err, "voxel (%d,%d,%d)", x, y, z)
			}
			cells[(z*height+y)*width+x] = v
		}
	}
	return nil
}
