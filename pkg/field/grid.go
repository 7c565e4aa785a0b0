// Package field builds the directional grid of a diffusion-tensor volume.
//
// The grid is stored as a flat buffer, depth outermost, then height, then
// width: the cell of voxel (x, y, z) lives at (z*height+y)*width + x. The
// seed search uses the same index to identify streamline voxels.
package field

import (
	"dtiseed/internal/models"
)

// Grid is an immutable dense 3D grid of directional voxels.
type Grid struct {
	width  int
	height int
	depth  int
	cells  []models.Voxel
}

// NewGrid wraps cells into a grid. It is mainly used by tests and readers of
// persisted records; Build is the normal way to obtain a grid.
func NewGrid(width, height, depth int, cells []models.Voxel) (*Grid, error) {
	if err := checkDims(width, height, depth); err != nil {
		return nil, err
	}
	if len(cells) != width*height*depth {
		return nil, newShapeError(width, height, depth, len(cells))
	}
	owned := make([]models.Voxel, len(cells))
	copy(owned, cells)
	return &Grid{width: width, height: height, depth: depth, cells: owned}, nil
}

// Dims returns width, height and depth.
func (g *Grid) Dims() (width, height, depth int) {
	return g.width, g.height, g.depth
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.cells)
}

// Index returns the flat index of (x, y, z).
func (g *Grid) Index(x, y, z int) int {
	return (z*g.height+y)*g.width + x
}

// Coords is the inverse of Index.
func (g *Grid) Coords(idx int) (x, y, z int) {
	x = idx % g.width
	y = (idx / g.width) % g.height
	z = idx / (g.width * g.height)
	return x, y, z
}

// At returns the cell at (x, y, z). Coordinates must be in range.
func (g *Grid) At(x, y, z int) models.Voxel {
	return g.cells[g.Index(x, y, z)]
}

// AtIndex returns the cell at a flat index.
func (g *Grid) AtIndex(idx int) models.Voxel {
	return g.cells[idx]
}

// Voxels returns a copy of all cells in flat order.
func (g *Grid) Voxels() []models.Voxel {
	out := make([]models.Voxel, len(g.cells))
	copy(out, g.cells)
	return out
}

// Record packages the grid and the given seeds for serialization.
func (g *Grid) Record(seeds []models.SeedPoint) *models.Record {
	s := make([]models.SeedPoint, len(seeds))
	copy(s, seeds)
	return &models.Record{
		Width:  g.width,
		Height: g.height,
		Depth:  g.depth,
		Voxels: g.Voxels(),
		Seeds:  s,
	}
}

// FromRecord rebuilds a grid from a persisted record.
func FromRecord(rec *models.Record) (*Grid, error) {
	return NewGrid(rec.Width, rec.Height, rec.Depth, rec.Voxels)
}
