package cache

import (
	"fmt"
	"sync"

	"github.com/voxelstream/voxelstream/voxel"
)

// LayoutRecord is what a successful preprocess response teaches the
// client about a (file, chunkSize) pair, so later loads can skip the
// round trip.
type LayoutRecord struct {
	Shape      voxel.Shape
	Chunks     []voxel.ChunkDescriptor
	DataLength uint64
}

// LayoutStore is a small synchronous map, snapshotted to a JSON file so
// it survives process restarts. Reads are O(1) and never touch the
// network, matching the contract DataSource relies on to short-circuit
// preprocess.
type LayoutStore struct {
	mu       sync.RWMutex
	records  map[string]LayoutRecord
	snapshot string
}

// NewLayoutStore creates a LayoutStore backed by snapshotPath. If
// snapshotPath is non-empty and a file already exists there, its
// contents are loaded immediately.
func NewLayoutStore(snapshotPath string) (*LayoutStore, error) {
	s := &LayoutStore{records: make(map[string]LayoutRecord), snapshot: snapshotPath}
	if snapshotPath == "" {
		return s, nil
	}
	if err := voxel.ReadJSONFile(snapshotPath, &s.records); err != nil {
		return nil, fmt.Errorf("loading layout cache snapshot: %w", err)
	}
	if s.records == nil {
		s.records = make(map[string]LayoutRecord)
	}
	return s, nil
}

func layoutKey(file string, chunkSize uint64) string {
	return fmt.Sprintf("voxel-grid-shape_%s_%d", file, chunkSize)
}

// Get returns the layout recorded for (file, chunkSize), if any.
func (s *LayoutStore) Get(file string, chunkSize uint64) (LayoutRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, found := s.records[layoutKey(file, chunkSize)]
	return rec, found
}

// Put records the layout for (file, chunkSize), overwriting any prior
// entry, and persists a snapshot if a path was configured.
func (s *LayoutStore) Put(file string, chunkSize uint64, rec LayoutRecord) error {
	s.mu.Lock()
	s.records[layoutKey(file, chunkSize)] = rec
	snapshot := s.snapshot
	records := s.copyRecordsLocked()
	s.mu.Unlock()

	if snapshot == "" {
		return nil
	}
	if err := voxel.WriteJSONFile(snapshot, records); err != nil {
		return voxel.Cachef("writing layout cache snapshot: %v", err)
	}
	return nil
}

func (s *LayoutStore) copyRecordsLocked() map[string]LayoutRecord {
	copied := make(map[string]LayoutRecord, len(s.records))
	for k, v := range s.records {
		copied[k] = v
	}
	return copied
}
