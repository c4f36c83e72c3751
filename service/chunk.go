package service

import (
	"encoding/binary"
	"math"

	"github.com/voxelstream/voxelstream/registry"
)

// ChunkService wraps TakeChunk into the little-endian byte stream the
// wire protocol expects. The HTTP status mapping for each TakeResult
// lives in the server package, which is the only caller that knows
// about HTTP.
type ChunkService struct {
	Registry *registry.TaskRegistry
}

// TakeChunk consumes slot index of taskID, returning the outcome and,
// on TakeReady, the chunk's payload as little-endian f64 bytes.
func (s *ChunkService) TakeChunk(taskID string, index uint32) (registry.TakeResult, []byte) {
	result, doubles := s.Registry.TakeChunk(taskID, index)
	if result != registry.TakeReady {
		return result, nil
	}
	buf := make([]byte, len(doubles)*8)
	for i, d := range doubles {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], math.Float64bits(d))
	}
	return result, buf
}
