// Package service implements the two server-side request handlers that
// sit in front of the task registry: PreprocessService, which kicks off
// a background parse and hands back a task id, and ChunkService, which
// serves the per-chunk payload. PerfService serves the session-keyed
// trace log the client pulls from to merge server-observed events into
// its own.
package service

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/voxelstream/voxelstream/parser"
	"github.com/voxelstream/voxelstream/registry"
	"github.com/voxelstream/voxelstream/voxel"
)

// PreprocessResponse is the wire shape for POST /voxel-grid/preprocess.
type PreprocessResponse struct {
	TaskID     string                  `json:"task_id"`
	File       string                  `json:"file"`
	FileSize   int64                   `json:"file_size"`
	Shape      [3]uint64               `json:"shape"`
	DataLength uint64                  `json:"data_length"`
	ChunkSize  uint64                  `json:"chunk_size"`
	Chunks     []voxel.ChunkDescriptor `json:"chunks"`
}

// PreprocessService answers preprocess requests against files rooted at
// Root, creating a task in Registry and spawning the background fill.
type PreprocessService struct {
	Root     string
	Registry *registry.TaskRegistry
}

// Preprocess validates file and chunkSize, reads just the file's shape,
// creates a task, and returns immediately while the full parse and
// chunk fill run in the background.
func (s *PreprocessService) Preprocess(file string, chunkSize uint64) (*PreprocessResponse, error) {
	if file == "" {
		return nil, voxel.Validationf("file must not be empty")
	}
	if chunkSize < 1 {
		return nil, voxel.Validationf("chunk_size must be >= 1, got %d", chunkSize)
	}

	resolved, err := s.resolve(file)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, voxel.UnknownFilef(file)
	}

	adapter, err := parser.ForFile(file)
	if err != nil {
		return nil, err
	}
	shape, err := adapter.ShapeOnly(resolved)
	if err != nil {
		return nil, voxel.Validationf("reading shape of %s: %v", file, err)
	}

	dataLength := shape.DataLength()
	chunks := voxel.PartitionChunks(dataLength, chunkSize)
	taskID := s.Registry.Create(shape, chunkSize, chunks)

	go s.fill(adapter, resolved, taskID, chunks)

	voxel.Infof("preprocess %s: task %s, shape %s, %d chunks", file, taskID, shape, len(chunks))
	return &PreprocessResponse{
		TaskID:     taskID,
		File:       file,
		FileSize:   info.Size(),
		Shape:      [3]uint64{shape.X, shape.Y, shape.Z},
		DataLength: dataLength,
		ChunkSize:  chunkSize,
		Chunks:     chunks,
	}, nil
}

// resolve joins file onto Root and rejects any path that escapes it.
func (s *PreprocessService) resolve(file string) (string, error) {
	root := s.Root
	if root == "" {
		root = "."
	}
	joined := filepath.Join(root, file)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", voxel.Validationf("file %q escapes configured root", file)
	}
	return joined, nil
}

// fill runs the full parse and slices each chunk's payload into the
// registry. Parser errors here cannot surface directly since the
// preprocess response has already been sent; they are logged and the
// task is left with unfilled slots, which eventually time out.
func (s *PreprocessService) fill(adapter parser.Adapter, resolved, taskID string, chunks []voxel.ChunkDescriptor) {
	_, doubles, err := adapter.Full(resolved)
	if err != nil {
		voxel.Errorf("background parse of %s for task %s failed: %v", resolved, taskID, err)
		return
	}

	chunkCh := make(chan voxel.ChunkDescriptor, len(chunks))
	for _, c := range chunks {
		chunkCh <- c
	}
	close(chunkCh)

	numWorkers := voxel.NumCPU
	if numWorkers > len(chunks) {
		numWorkers = len(chunks)
	}
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range chunkCh {
				slice := doubles[c.Start:c.End]
				if err := s.Registry.SetChunk(taskID, c.Index, slice); err != nil {
					voxel.Warningf("set_chunk task %s index %d: %v", taskID, c.Index, err)
				}
			}
		}()
	}
	wg.Wait()
}
