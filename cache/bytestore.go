// Package cache implements the client-side persistent stores:
// ByteStore, a Badger-backed key-value store for per-chunk payloads
// with emulated secondary indexes on file and timestamp; LayoutStore, a
// small synchronous map snapshotted to disk; and Writeback, the
// idle-callback substitute that defers ByteStore writes off the load
// path.
package cache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/voxelstream/voxelstream/voxel"
)

// CachedChunk is one record of the byte cache: a chunk's payload plus
// the per-chunk min/max computed when it was fetched, and the time it
// was written.
type CachedChunk struct {
	Bytes       []byte
	Min         float64
	Max         float64
	TimestampMS int64
}

// ByteStore is the persistent key-value store mapping
// (file, chunkSize, chunkIndex) to a CachedChunk. get is pure; put is
// idempotent; deleteByFile and evict are bulk operations driven by
// emulated secondary indexes, since Badger itself has no index
// concept: a "byfile:" key and a "bytime:" key are written alongside
// every primary record and scanned by prefix.
type ByteStore struct {
	db       *badger.DB
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	compress bool
}

type byteStoreRecord struct {
	Bytes       []byte  `json:"bytes"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// OpenByteStore opens (creating if needed) a Badger database at path.
// When compress is true, record payloads are zstd-compressed on disk.
func OpenByteStore(path string, compress bool) (*ByteStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening byte cache at %s: %w", path, err)
	}
	s := &ByteStore{db: db, compress: compress}
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		s.encoder, s.decoder = enc, dec
	}
	return s, nil
}

// Close releases the underlying database and any compressor state.
func (s *ByteStore) Close() error {
	if s.encoder != nil {
		s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	return s.db.Close()
}

func primaryKey(file string, chunkSize uint64, chunkIndex uint32) []byte {
	return []byte(fmt.Sprintf("chunk:%s:%d:%d", file, chunkSize, chunkIndex))
}

func byFileIndexKey(file string, chunkSize uint64, chunkIndex uint32) []byte {
	return []byte(fmt.Sprintf("byfile:%s:%d:%d", file, chunkSize, chunkIndex))
}

// byTimeIndexKey sorts lexically the same as numerically because the
// timestamp is encoded as a fixed-width big-endian integer.
func byTimeIndexKey(tsMS int64, primary []byte) []byte {
	buf := make([]byte, 8+len(primary))
	binary.BigEndian.PutUint64(buf[:8], uint64(tsMS))
	copy(buf[8:], primary)
	return append([]byte("bytime:"), buf...)
}

// Get returns the cached chunk for the given key, or (CachedChunk{},
// false, nil) on a miss. A store error is reported but never fatal to
// the caller's load.
func (s *ByteStore) Get(file string, chunkSize uint64, chunkIndex uint32) (CachedChunk, bool, error) {
	key := primaryKey(file, chunkSize, chunkIndex)
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return CachedChunk{}, false, voxel.Cachef("reading byte cache key %s: %v", key, err)
	}
	if raw == nil {
		return CachedChunk{}, false, nil
	}

	decoded, err := s.decode(raw)
	if err != nil {
		return CachedChunk{}, false, voxel.Cachef("decoding byte cache record %s: %v", key, err)
	}
	var rec byteStoreRecord
	if err := json.Unmarshal(decoded, &rec); err != nil {
		return CachedChunk{}, false, voxel.Cachef("unmarshalling byte cache record %s: %v", key, err)
	}
	return CachedChunk{Bytes: rec.Bytes, Min: rec.Min, Max: rec.Max, TimestampMS: rec.TimestampMS}, true, nil
}

// Put writes or overwrites the cached chunk for the given key.
// Idempotent: an identical key simply overwrites.
func (s *ByteStore) Put(file string, chunkSize uint64, chunkIndex uint32, chunk CachedChunk) error {
	key := primaryKey(file, chunkSize, chunkIndex)
	rec := byteStoreRecord{Bytes: chunk.Bytes, Min: chunk.Min, Max: chunk.Max, TimestampMS: chunk.TimestampMS}
	plain, err := json.Marshal(rec)
	if err != nil {
		return voxel.Cachef("marshalling byte cache record %s: %v", key, err)
	}
	encoded, err := s.encode(plain)
	if err != nil {
		return voxel.Cachef("encoding byte cache record %s: %v", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, encoded); err != nil {
			return err
		}
		if err := txn.Set(byFileIndexKey(file, chunkSize, chunkIndex), key); err != nil {
			return err
		}
		return txn.Set(byTimeIndexKey(chunk.TimestampMS, key), key)
	})
	if err != nil {
		return voxel.Cachef("writing byte cache record %s: %v", key, err)
	}
	return nil
}

// DeleteByFile bulk-erases every record for file across all chunk
// sizes and indices, via a scan of the byfile: secondary index. Leaves
// that record's bytime: entry dangling; Evict's own scan no-ops on the
// already-gone primary key and then removes the stale entry itself.
func (s *ByteStore) DeleteByFile(file string) error {
	prefix := []byte(fmt.Sprintf("byfile:%s:", file))
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var primaries [][]byte
		var indexKeys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			indexKey := it.Item().KeyCopy(nil)
			primary, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			indexKeys = append(indexKeys, indexKey)
			primaries = append(primaries, primary)
		}
		for _, k := range primaries {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, k := range indexKeys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Evict bulk-erases every record whose timestamp is older than
// now-maxAgeMS, via a scan of the bytime: secondary index. Leaves that
// record's byfile: entry dangling, cleaned up the same way on the next
// DeleteByFile call that scans it.
func (s *ByteStore) Evict(nowMS, maxAgeMS int64) error {
	cutoff := nowMS - maxAgeMS
	prefix := []byte("bytime:")
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts := int64(binary.BigEndian.Uint64(it.Item().Key()[len(prefix) : len(prefix)+8]))
			if ts >= cutoff {
				break // bytime: keys are sorted ascending by timestamp
			}
			indexKey := it.Item().KeyCopy(nil)
			primary, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			toDelete = append(toDelete, indexKey, primary)
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearAll erases every record the store holds.
func (s *ByteStore) ClearAll() error {
	return s.db.DropAll()
}

func (s *ByteStore) encode(plain []byte) ([]byte, error) {
	if !s.compress {
		return plain, nil
	}
	return s.encoder.EncodeAll(plain, nil), nil
}

func (s *ByteStore) decode(stored []byte) ([]byte, error) {
	if !s.compress {
		return stored, nil
	}
	return s.decoder.DecodeAll(stored, nil)
}
