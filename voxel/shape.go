// Package voxel holds the types, errors and logging conventions shared
// across the loader, server and cache packages: the voxel grid shape and
// chunk partitioning math, the error kinds observed by the pipeline, and
// a small severity-gated logger in the style of a core
// utility package.
package voxel

import "fmt"

// Shape is the extent of a three-dimensional scalar field, addressed
// (i,j,k) with flat index k*X*Y + j*X + i.
type Shape struct {
	X, Y, Z uint64
}

// DataLength returns the total number of samples in the field.
func (s Shape) DataLength() uint64 {
	return s.X * s.Y * s.Z
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.X, s.Y, s.Z)
}

// ChunkDescriptor is a half-open, contiguous slice of the flattened field,
// identified by an ascending index.
type ChunkDescriptor struct {
	Index uint32 `json:"index"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Length returns the number of elements covered by the chunk.
func (c ChunkDescriptor) Length() uint64 {
	return c.End - c.Start
}

// PartitionChunks splits [0, dataLength) into ascending, contiguous,
// half-open chunks of chunkSize elements, the last one truncated to
// whatever remains. Guarantees chunks[0].Start == 0, chunks[last].End
// == dataLength, and chunks[i+1].Start == chunks[i].End for every
// adjacent pair.
func PartitionChunks(dataLength, chunkSize uint64) []ChunkDescriptor {
	if dataLength == 0 {
		return nil
	}
	if chunkSize == 0 {
		chunkSize = dataLength
	}
	n := (dataLength + chunkSize - 1) / chunkSize
	chunks := make([]ChunkDescriptor, n)
	var start uint64
	for i := uint64(0); i < n; i++ {
		end := start + chunkSize
		if end > dataLength {
			end = dataLength
		}
		chunks[i] = ChunkDescriptor{Index: uint32(i), Start: start, End: end}
		start = end
	}
	return chunks
}
