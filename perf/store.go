package perf

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/voxelstream/voxelstream/voxel"
)

// Store durably appends and reads back Records for a session_id. It is
// the "shared persistent store reachable from the main thread and
// worker lanes": any number of Trackers sharing one Store value
// converge on the same records.
type Store interface {
	Append(sessionID string, r Record) error
	Records(sessionID string) ([]Record, error)
	Close() error
}

const numSessionShards = 64

// BadgerStore is the one Store implementation this repository ships.
// Appends are read-modify-write under a per-session shard lock, the
// same sharded-mutex idiom used for chunk slot access in the registry,
// since Badger transactions alone don't serialize logical list-append
// operations across concurrent writers.
type BadgerStore struct {
	db *badger.DB
	mu [numSessionShards]sync.Mutex
}

// OpenBadgerStore opens (creating if needed) a Badger database at path
// to back a Store.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening performance store at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func sessionKey(sessionID string) []byte {
	return []byte("session:" + sessionID)
}

func (s *BadgerStore) shardFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.mu[h.Sum32()%numSessionShards]
}

// Append adds r to sessionID's record list, creating it if absent.
func (s *BadgerStore) Append(sessionID string, r Record) error {
	mu := s.shardFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	records, err := s.readSession(sessionID)
	if err != nil {
		return voxel.Cachef("reading performance session %s: %v", sessionID, err)
	}
	records = append(records, r)
	encoded, err := json.Marshal(records)
	if err != nil {
		return voxel.Cachef("encoding performance session %s: %v", sessionID, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sessionID), encoded)
	}); err != nil {
		return voxel.Cachef("writing performance session %s: %v", sessionID, err)
	}
	return nil
}

// Records returns every record appended so far for sessionID, in
// append order. A session with no records returns an empty slice.
func (s *BadgerStore) Records(sessionID string) ([]Record, error) {
	records, err := s.readSession(sessionID)
	if err != nil {
		return nil, voxel.Cachef("reading performance session %s: %v", sessionID, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (s *BadgerStore) readSession(sessionID string) ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &records)
		})
	})
	return records, err
}
