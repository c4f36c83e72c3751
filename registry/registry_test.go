package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/voxelstream/voxelstream/voxel"
)

func newTestRegistry(t *testing.T) *TaskRegistry {
	t.Helper()
	r := NewTaskRegistry(10 * time.Minute)
	t.Cleanup(r.Close)
	return r
}

func TestTaskLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	shape := voxel.Shape{X: 4, Y: 4, Z: 4}
	chunks := voxel.PartitionChunks(shape.DataLength(), 20)
	taskID := r.Create(shape, 20, chunks)

	if res, bytes := r.TakeChunk(taskID, 0); res != TakeNotReady || bytes != nil {
		t.Fatalf("expected NotReady before set_chunk, got %v", res)
	}

	payload := []float64{1, 2, 3, 4}
	if err := r.SetChunk(taskID, 0, payload); err != nil {
		t.Fatalf("SetChunk: %v", err)
	}
	if err := r.SetChunk(taskID, 0, payload); err == nil {
		t.Fatalf("expected error setting an already-Ready slot")
	}

	res, bytes := r.TakeChunk(taskID, 0)
	if res != TakeReady {
		t.Fatalf("expected Ready, got %v", res)
	}
	if len(bytes) != len(payload) {
		t.Fatalf("expected %d bytes back, got %d", len(payload), len(bytes))
	}

	// take_chunk must return Ready at most once per (task_id, index).
	res, bytes = r.TakeChunk(taskID, 0)
	if res != TakeAlreadyConsumed || bytes != nil {
		t.Fatalf("expected AlreadyConsumed on second take, got %v", res)
	}
}

func TestTaskDestroyedAfterLastChunkConsumed(t *testing.T) {
	r := newTestRegistry(t)
	shape := voxel.Shape{X: 2, Y: 2, Z: 2}
	chunks := voxel.PartitionChunks(shape.DataLength(), 4)
	taskID := r.Create(shape, 4, chunks)

	for i := range chunks {
		if err := r.SetChunk(taskID, uint32(i), []float64{float64(i)}); err != nil {
			t.Fatalf("SetChunk(%d): %v", i, err)
		}
	}
	for i := range chunks {
		if res, _ := r.TakeChunk(taskID, uint32(i)); res != TakeReady {
			t.Fatalf("TakeChunk(%d): expected Ready, got %v", i, res)
		}
	}

	// Task should be gone now; any further take is NotFound, not NotReady.
	if res, _ := r.TakeChunk(taskID, 0); res != TakeNotFound {
		t.Fatalf("expected NotFound for a fully-consumed and destroyed task, got %v", res)
	}
}

func TestTakeChunkUnknownTask(t *testing.T) {
	r := newTestRegistry(t)
	if res, bytes := r.TakeChunk("does-not-exist", 0); res != TakeNotFound || bytes != nil {
		t.Fatalf("expected NotFound, got %v", res)
	}
}

func TestSweepExpiresOldTasks(t *testing.T) {
	r := newTestRegistry(t)
	shape := voxel.Shape{X: 2, Y: 2, Z: 2}
	chunks := voxel.PartitionChunks(shape.DataLength(), 4)
	taskID := r.Create(shape, 4, chunks)

	removed := r.Sweep(time.Now().Add(20 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected to sweep 1 task, swept %d", removed)
	}
	if res, _ := r.TakeChunk(taskID, 0); res != TakeNotFound {
		t.Fatalf("expected NotFound for swept task, got %v", res)
	}
}

func TestConcurrentSetChunkDistinctIndices(t *testing.T) {
	r := newTestRegistry(t)
	shape := voxel.Shape{X: 8, Y: 8, Z: 8}
	chunks := voxel.PartitionChunks(shape.DataLength(), 64)
	taskID := r.Create(shape, 64, chunks)

	var wg sync.WaitGroup
	errs := make([]error, len(chunks))
	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.SetChunk(taskID, uint32(i), []float64{float64(i)})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("SetChunk(%d) concurrently: %v", i, err)
		}
	}

	var wg2 sync.WaitGroup
	results := make([]TakeResult, len(chunks))
	for i := range chunks {
		wg2.Add(1)
		go func(i int) {
			defer wg2.Done()
			res, _ := r.TakeChunk(taskID, uint32(i))
			results[i] = res
		}(i)
	}
	wg2.Wait()
	for i, res := range results {
		if res != TakeReady {
			t.Fatalf("TakeChunk(%d) concurrently: expected Ready, got %v", i, res)
		}
	}
}
