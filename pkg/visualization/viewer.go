// Package visualization renders the fractional anisotropy map of a direction
// field as grayscale slices, with seed points drawn at full intensity.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"dtiseed/internal/models"
	"dtiseed/pkg/field"
)

const (
	// faLevel is the gray level of a voxel with FA 1.
	faLevel = 0xC000
	// seedLevel marks voxels holding a seed point.
	seedLevel = 0xFFFF
)

// Viewer extracts slices and regions of the FA map of a grid.
type Viewer struct {
	grid *field.Grid

	width  int
	height int
	depth  int

	// seeds holds the grid indices of the voxels containing a seed point
	seeds map[int]struct{}
}

// NewViewer creates a viewer for g. Seeds outside the grid are ignored.
func NewViewer(g *field.Grid, seeds []models.SeedPoint) *Viewer {
	w, h, d := g.Dims()
	v := &Viewer{grid: g, width: w, height: h, depth: d, seeds: make(map[int]struct{}, len(seeds))}
	for _, p := range seeds {
		x, y, z := int(p.X), int(p.Y), int(p.Z)
		if x < 0 || y < 0 || z < 0 || x >= w || y >= h || z >= d {
			continue
		}
		v.seeds[g.Index(x, y, z)] = struct{}{}
	}
	return v
}

func (v *Viewer) level(x, y, z int) color.Gray16 {
	idx := v.grid.Index(x, y, z)
	if _, ok := v.seeds[idx]; ok {
		return color.Gray16{Y: seedLevel}
	}
	fa := float64(v.grid.AtIndex(idx).FA)
	if fa < 0 {
		fa = 0
	} else if fa > 1 {
		fa = 1
	}
	return color.Gray16{Y: uint16(fa * faLevel)}
}

// axisLen returns the extent of the grid along axis.
func (v *Viewer) axisLen(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.width, nil
	case "y", "Y":
		return v.height, nil
	case "z", "Z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice of the FA map perpendicular to axis.
// An x slice is depth wide and height tall, a y slice is width by depth,
// and a z slice is width by height.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	n, err := v.axisLen(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	var img *image.Gray16
	switch axis {
	case "x", "X":
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.level(position, y, z))
			}
		}
	case "y", "Y":
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.level(x, position, z))
			}
		}
	default:
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.level(x, y, position))
			}
		}
	}
	return img, nil
}

// ExtractRegion returns the FA values of a box of the grid, x fastest.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float64, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float64, 0, sizeX*sizeY*sizeZ)
	for z := startZ; z < startZ+sizeZ; z++ {
		for y := startY; y < startY+sizeY; y++ {
			for x := startX; x < startX+sizeX; x++ {
				region = append(region, float64(v.grid.At(x, y, z).FA))
			}
		}
	}
	return region, nil
}

// Neighbourhood returns the FA values of the box of the given radius around
// voxel (x, y, z), clipped to the grid.
func (v *Viewer) Neighbourhood(x, y, z, radius int) ([]float64, error) {
	if x < 0 || y < 0 || z < 0 || x >= v.width || y >= v.height || z >= v.depth {
		return nil, fmt.Errorf("voxel (%d, %d, %d) is outside the volume", x, y, z)
	}
	x0, x1 := max(x-radius, 0), min(x+radius, v.width-1)
	y0, y1 := max(y-radius, 0), min(y+radius, v.height-1)
	z0, z1 := max(z-radius, 0), min(z+radius, v.depth-1)
	return v.ExtractRegion(x0, y0, z0, x1-x0+1, y1-y0+1, z1-z0+1)
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "creating slice file")
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along axis into outputDir.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	n, err := v.axisLen(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("fa_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return errors.Wrapf(err, "slice %s %d", axis, pos)
		}
	}
	return nil
}
