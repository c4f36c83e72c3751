package cache

import (
	"github.com/voxelstream/voxelstream/voxel"
)

// writebackJob is a single deferred ByteStore.Put, queued by DataSource
// for each network-sourced chunk, carrying its own encoded copy of the
// chunk's bytes.
type writebackJob struct {
	file       string
	chunkSize  uint64
	chunkIndex uint32
	chunk      CachedChunk
}

// Writeback is this repository's substitute for requestIdleCallback: a
// buffered channel drained by a single background goroutine, so a Put
// to the ByteStore never blocks the load path that produced the chunk.
// There is no browser event loop to be idle on here, so the two
// separate idle-timeout and no-idle-support-fallback delays collapse
// into the single queue-drain loop below; see DESIGN.md.
type Writeback struct {
	store *ByteStore
	jobs  chan writebackJob
	done  chan struct{}
}

// NewWriteback starts the background writeback goroutine for store.
func NewWriteback(store *ByteStore) *Writeback {
	w := &Writeback{
		store: store,
		jobs:  make(chan writebackJob, 256),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Schedule enqueues a chunk to be written back once idle. Never blocks
// the caller beyond the channel buffer filling, in which case it drops
// the job rather than stall a load; a dropped writeback only costs a
// future cache miss, which is always a valid degradation.
func (w *Writeback) Schedule(file string, chunkSize uint64, chunkIndex uint32, chunk CachedChunk) {
	select {
	case w.jobs <- writebackJob{file: file, chunkSize: chunkSize, chunkIndex: chunkIndex, chunk: chunk}:
	default:
		voxel.Warningf("writeback queue full, dropping chunk %d of %s", chunkIndex, file)
	}
}

// Close stops the background goroutine after draining any jobs already
// queued.
func (w *Writeback) Close() {
	close(w.jobs)
	<-w.done
}

func (w *Writeback) run() {
	defer close(w.done)
	for job := range w.jobs {
		w.apply(job)
	}
}

func (w *Writeback) apply(job writebackJob) {
	if err := w.store.Put(job.file, job.chunkSize, job.chunkIndex, job.chunk); err != nil {
		voxel.Warningf("writeback of chunk %d of %s: %v", job.chunkIndex, job.file, err)
	}
}
