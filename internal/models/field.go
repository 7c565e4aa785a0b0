package models

// Voxel is one cell of the directional grid: the principal diffusion
// direction and the fractional anisotropy of the local tensor.
type Voxel struct {
	DirX float32
	DirY float32
	DirZ float32

	// FA is the fractional anisotropy in [0, 1]. It is 0 for voxels that
	// carry no directional information.
	FA float32
}

// IsZero reports whether the voxel carries no direction and no anisotropy.
func (v Voxel) IsZero() bool {
	return v == Voxel{}
}

// SeedPoint is a grid coordinate selected as a starting location for
// streamline tracing. Coordinates are integer valued.
type SeedPoint struct {
	X, Y, Z float32
}

// Record is the persisted result of a run.
type Record struct {
	// Width, Height, Depth are the grid dimensions in voxels
	Width  int
	Height int
	Depth  int

	// Voxels holds Width*Height*Depth cells, depth outermost then height then width
	Voxels []Voxel

	// Seeds holds the seeding points in discovery order
	Seeds []SeedPoint
}
