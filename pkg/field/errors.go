package field

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidDimensions is returned when a grid dimension is not positive
	// or the grid holds more samples than an int can count.
	ErrInvalidDimensions = errors.New("field: invalid grid dimensions")

	// ErrShortSamples is returned when the sample array is too short for the
	// declared grid dimensions.
	ErrShortSamples = errors.New("field: sample array shorter than declared grid")

	// ErrShapeMismatch is returned in strict mode when samples remain past
	// the last voxel of the declared grid.
	ErrShapeMismatch = errors.New("field: sample count does not match declared grid")

	// ErrEigenFailed is returned when the symmetric eigendecomposition of a
	// voxel tensor does not converge.
	ErrEigenFailed = errors.New("field: eigendecomposition failed")
)

func checkDims(width, height, depth int) error {
	if width < 1 || height < 1 || depth < 1 {
		return errors.Wrapf(ErrInvalidDimensions, "width, height and depth must be at least 1, got %dx%dx%d",
			width, height, depth)
	}
	if width > math.MaxInt/Channels/depth/height {
		return errors.Wrapf(ErrInvalidDimensions, "grid %dx%dx%d is too large", width, height, depth)
	}
	return nil
}

// SampleCount returns the number of samples a grid of the given dimensions
// needs, or ErrInvalidDimensions when the dimensions are not usable.
func SampleCount(width, height, depth int) (int, error) {
	if err := checkDims(width, height, depth); err != nil {
		return 0, err
	}
	return width * height * depth * Channels, nil
}

func newShapeError(width, height, depth, cells int) error {
	return errors.Wrapf(ErrShapeMismatch, "grid %dx%dx%d needs %d cells, got %d",
		width, height, depth, width*height*depth, cells)
}
