package tensor

import (
	"context"
	"io"
	"os"

	"github.com/henghuang/nifti"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// niftiChannels is the length of the fourth image dimension.
const niftiChannels = 7

// Volume is a decoded tensor volume with its grid dimensions.
type Volume struct {
	Width, Height, Depth int
	Samples              []float32
}

// LoadNIfTI reads a 4D NIfTI image whose fourth dimension holds the seven
// channels of each voxel and returns it in the flat sample order used by the
// field builder. Only local files are read; see Opener.LoadNIfTI.
func LoadNIfTI(path string) (v *Volume, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, errors.Errorf("loading nifti %s: %v", path, r)
		}
	}()

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	dims := img.GetDims()
	width, height, depth, channels := dims[0], dims[1], dims[2], dims[3]
	if width < 1 || height < 1 || depth < 1 {
		return nil, errors.Errorf("nifti %s: no image data (dimensions %v)", path, dims)
	}
	if channels != niftiChannels {
		return nil, errors.Errorf("nifti %s: fourth dimension must hold %d channels, got %d",
			path, niftiChannels, channels)
	}

	v = &Volume{Width: width, Height: height, Depth: depth}
	v.Samples = make([]float32, 0, width*height*depth*channels)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				for c := 0; c < channels; c++ {
					v.Samples = append(v.Samples, img.GetAt(x, y, z, c))
				}
			}
		}
	}
	return v, nil
}

// LoadNIfTI reads a NIfTI image through the opener, so gs:// paths and any
// supported compression work. The decompressed image is staged in a
// temporary file for the nifti reader.
func (o Opener) LoadNIfTI(ctx context.Context, path string) (*Volume, error) {
	staged, err := o.stage(ctx, path, "dtiseed-*.nii")
	if err != nil {
		return nil, err
	}
	defer os.Remove(staged)
	return LoadNIfTI(staged)
}

// stage copies the decompressed contents of path into a new temporary file
// and returns its name.
func (o Opener) stage(ctx context.Context, path, pattern string) (name string, err error) {
	rc, err := o.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, rc.Close())
	}()

	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", errors.Wrap(err, "staging tensor data")
	}
	_, err = io.Copy(f, rc)
	err = multierr.Combine(err, f.Close())
	if err != nil {
		os.Remove(f.Name())
		return "", errors.Wrapf(err, "staging %s", path)
	}
	return f.Name(), nil
}
