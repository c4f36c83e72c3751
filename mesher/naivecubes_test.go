package mesher

import (
	"testing"

	"github.com/voxelstream/voxelstream/voxel"
)

func TestNaiveCubesEmptyOnFlatField(t *testing.T) {
	shape := voxel.Shape{X: 3, Y: 3, Z: 3}
	doubles := make([]float64, shape.DataLength())
	for i := range doubles {
		doubles[i] = 1.0
	}
	var m NaiveCubes
	positions, indices, err := m.Mesh(shape, doubles, 0.5)
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if len(positions) != 0 || len(indices) != 0 {
		t.Fatalf("expected no geometry for a field that never straddles the level")
	}
}

func TestNaiveCubesEmitsQuadsAcrossABoundary(t *testing.T) {
	shape := voxel.Shape{X: 2, Y: 2, Z: 2}
	doubles := []float64{0, 0, 0, 0, 1, 1, 1, 1} // straddles between z=0 and z=1
	var m NaiveCubes
	positions, indices, err := m.Mesh(shape, doubles, 0.5)
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if len(positions) == 0 || len(indices) == 0 {
		t.Fatalf("expected geometry for a field that straddles the level")
	}
	if len(positions)%3 != 0 {
		t.Fatalf("positions length %d is not a multiple of 3", len(positions))
	}
	if len(indices)%3 != 0 {
		t.Fatalf("indices length %d is not a multiple of 3", len(indices))
	}
	maxIndex := uint32(len(positions)/3 - 1)
	for _, idx := range indices {
		if idx > maxIndex {
			t.Fatalf("index %d out of range of %d positions", idx, len(positions)/3)
		}
	}
}

func TestNaiveCubesDegenerateShape(t *testing.T) {
	shape := voxel.Shape{X: 1, Y: 5, Z: 5}
	doubles := make([]float64, shape.DataLength())
	var m NaiveCubes
	positions, indices, err := m.Mesh(shape, doubles, 0.5)
	if err != nil {
		t.Fatalf("Mesh: %v", err)
	}
	if positions != nil || indices != nil {
		t.Fatalf("expected nil geometry for a degenerate (thin) shape")
	}
}

func TestNaiveCubesSizeMismatch(t *testing.T) {
	shape := voxel.Shape{X: 2, Y: 2, Z: 2}
	var m NaiveCubes
	if _, _, err := m.Mesh(shape, make([]float64, 3), 0.5); err == nil {
		t.Fatalf("expected an error when doubles does not match shape")
	}
}
