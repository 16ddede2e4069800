// Package models holds the shared data types used across the defacing pipeline.
package models

import (
	"gonum.org/v1/gonum/mat"
)

// Volume represents a 3D structural MRI volume on a regular voxel grid.
type Volume struct {
	// Data is the intensity values as a 1D array in row-major order,
	// x varying fastest: index = z*Nx*Ny + y*Nx + x
	Data []float64

	// Nx, Ny, Nz are the grid dimensions in voxels
	Nx, Ny, Nz int

	// Spacing is the physical voxel size along each axis in mm
	Spacing [3]float64

	// Affine is the 4x4 voxel-index to world-coordinate transform.
	// Its upper-left 3x3 block encodes orientation and scale; the last
	// column is the world position of voxel (0,0,0).
	Affine *mat.Dense
}

// Idx returns the linear index of voxel (x, y, z).
func (v *Volume) Idx(x, y, z int) int {
	return z*v.Nx*v.Ny + y*v.Nx + x
}

// At returns the intensity at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Idx(x, y, z)]
}

// Set assigns the intensity at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Idx(x, y, z)] = value
}

// Shape returns the grid dimensions as a triple.
func (v *Volume) Shape() [3]int {
	return [3]int{v.Nx, v.Ny, v.Nz}
}

// NumVoxels returns the total voxel count.
func (v *Volume) NumVoxels() int {
	return v.Nx * v.Ny * v.Nz
}

// Clone returns a deep copy of the volume. The affine matrix is copied
// as well so the clone shares no state with the original.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)

	var affine *mat.Dense
	if v.Affine != nil {
		affine = mat.DenseCopyOf(v.Affine)
	}

	return &Volume{
		Data:    data,
		Nx:      v.Nx,
		Ny:      v.Ny,
		Nz:      v.Nz,
		Spacing: v.Spacing,
		Affine:  affine,
	}
}

// BoundingBox is an axis-aligned voxel-index region, half-open on each
// axis: voxel (x,y,z) is inside when Start[i] <= coord[i] < End[i].
type BoundingBox struct {
	Start [3]int
	End   [3]int
}

// Shape returns the extent of the box along each axis.
func (b BoundingBox) Shape() [3]int {
	return [3]int{b.End[0] - b.Start[0], b.End[1] - b.Start[1], b.End[2] - b.Start[2]}
}

// NumVoxels returns the number of voxels inside the box.
func (b BoundingBox) NumVoxels() int {
	s := b.Shape()
	return s[0] * s[1] * s[2]
}

// Contains reports whether voxel (x, y, z) lies inside the box.
func (b BoundingBox) Contains(x, y, z int) bool {
	return x >= b.Start[0] && x < b.End[0] &&
		y >= b.Start[1] && y < b.End[1] &&
		z >= b.Start[2] && z < b.End[2]
}

// EdgeMask is a blend-weight field over a bounding box. Weights are in
// [0,1]: 1 in the box interior, tapering to 0 at the box border so the
// composited region meets the untouched volume without a seam.
type EdgeMask struct {
	// Box is the region the weights cover.
	Box BoundingBox

	// Weights holds one weight per box voxel, in the same row-major
	// layout as Volume.Data but with box-local coordinates.
	Weights []float64
}

// At returns the weight at box-local coordinates (x, y, z).
func (m *EdgeMask) At(x, y, z int) float64 {
	s := m.Box.Shape()
	return m.Weights[z*s[0]*s[1]+y*s[0]+x]
}

// AxisMap records which voxel axis, and which direction along it, points
// anterior and inferior in world space. It is derived once from the
// affine and consumed by the face locator.
type AxisMap struct {
	// AnteriorAxis is the voxel axis (0, 1 or 2) most aligned with the
	// world anterior-posterior direction.
	AnteriorAxis int

	// AnteriorPositive is true when increasing voxel index along
	// AnteriorAxis moves anterior (toward the face).
	AnteriorPositive bool

	// InferiorAxis is the voxel axis most aligned with the world
	// superior-inferior direction.
	InferiorAxis int

	// InferiorPositive is true when increasing voxel index along
	// InferiorAxis moves inferior (toward the chin).
	InferiorPositive bool
}
