// Package mesher defines the SurfaceMesher contract: turning a scalar
// field into a triangle surface at a given iso-level. Only the contract
// is in scope; naivecubes.go exists so the rest of the pipeline is
// exercisable end to end without a renderer attached.
package mesher

import "github.com/voxelstream/voxelstream/voxel"

// SurfaceMesher extracts an iso-surface from a flattened scalar field.
type SurfaceMesher interface {
	// Mesh returns a flat xyz position array and a triangle index array.
	Mesh(shape voxel.Shape, doubles []float64, level float64) (positions []float32, indices []uint32, err error)
}
