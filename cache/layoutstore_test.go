package cache

import (
	"path/filepath"
	"testing"

	"github.com/voxelstream/voxelstream/voxel"
)

func TestLayoutStoreGetMiss(t *testing.T) {
	s, err := NewLayoutStore("")
	if err != nil {
		t.Fatalf("NewLayoutStore: %v", err)
	}
	if _, found := s.Get("grid.vgrid", 20); found {
		t.Fatalf("expected a miss on an empty store")
	}
}

func TestLayoutStorePutGet(t *testing.T) {
	s, err := NewLayoutStore("")
	if err != nil {
		t.Fatalf("NewLayoutStore: %v", err)
	}
	shape := voxel.Shape{X: 4, Y: 4, Z: 4}
	rec := LayoutRecord{Shape: shape, Chunks: voxel.PartitionChunks(shape.DataLength(), 20), DataLength: shape.DataLength()}
	if err := s.Put("grid.vgrid", 20, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found := s.Get("grid.vgrid", 20)
	if !found {
		t.Fatalf("expected a hit after Put")
	}
	if got.DataLength != rec.DataLength || len(got.Chunks) != len(rec.Chunks) {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestLayoutStorePersistsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	s, err := NewLayoutStore(path)
	if err != nil {
		t.Fatalf("NewLayoutStore: %v", err)
	}
	shape := voxel.Shape{X: 2, Y: 2, Z: 2}
	rec := LayoutRecord{Shape: shape, Chunks: voxel.PartitionChunks(shape.DataLength(), 4), DataLength: shape.DataLength()}
	if err := s.Put("grid.vgrid", 4, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened, err := NewLayoutStore(path)
	if err != nil {
		t.Fatalf("NewLayoutStore (reopen): %v", err)
	}
	got, found := reopened.Get("grid.vgrid", 4)
	if !found {
		t.Fatalf("expected the snapshot to survive a reopen")
	}
	if got.DataLength != rec.DataLength {
		t.Fatalf("got DataLength %d, want %d", got.DataLength, rec.DataLength)
	}
}
