package mesher

import "github.com/voxelstream/voxelstream/voxel"

// NaiveCubes is a deliberately simple SurfaceMesher: for every unit cell
// that straddles level, it emits a flat quad centered on the cell rather
// than the edge-intersection triangles a real marching-cubes table would
// produce. It exists so DataSource output can be fed all the way through
// to a mesh without pulling in an actual iso-surface implementation,
// which is out of scope.
type NaiveCubes struct{}

// Mesh implements SurfaceMesher.
func (NaiveCubes) Mesh(shape voxel.Shape, doubles []float64, level float64) ([]float32, []uint32, error) {
	if shape.X < 2 || shape.Y < 2 || shape.Z < 2 {
		return nil, nil, nil
	}
	if uint64(len(doubles)) != shape.DataLength() {
		return nil, nil, voxel.MergeSizeMismatchf(shape.DataLength(), uint64(len(doubles)))
	}

	at := func(x, y, z uint64) float64 {
		return doubles[z*shape.X*shape.Y+y*shape.X+x]
	}

	var positions []float32
	var indices []uint32

	for z := uint64(0); z < shape.Z-1; z++ {
		for y := uint64(0); y < shape.Y-1; y++ {
			for x := uint64(0); x < shape.X-1; x++ {
				corners := [8]float64{
					at(x, y, z), at(x+1, y, z), at(x, y+1, z), at(x+1, y+1, z),
					at(x, y, z+1), at(x+1, y, z+1), at(x, y+1, z+1), at(x+1, y+1, z+1),
				}
				if !straddles(corners, level) {
					continue
				}

				cx, cy, cz := float32(x)+0.5, float32(y)+0.5, float32(z)+0.5
				base := uint32(len(positions) / 3)
				quad := [4][3]float32{
					{cx - 0.5, cy - 0.5, cz},
					{cx + 0.5, cy - 0.5, cz},
					{cx + 0.5, cy + 0.5, cz},
					{cx - 0.5, cy + 0.5, cz},
				}
				for _, p := range quad {
					positions = append(positions, p[0], p[1], p[2])
				}
				indices = append(indices,
					base, base+1, base+2,
					base, base+2, base+3,
				)
			}
		}
	}
	return positions, indices, nil
}

func straddles(corners [8]float64, level float64) bool {
	below, above := false, false
	for _, c := range corners {
		if c < level {
			below = true
		} else {
			above = true
		}
	}
	return below && above
}
