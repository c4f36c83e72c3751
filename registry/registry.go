// Package registry holds in-flight task data and mediates producer and
// consumer access to chunk payloads with at-most-once delivery. Tasks
// are sharded across a fixed array of mutexes to bound lock contention
// under concurrent task creation, and a freecache negative cache
// remembers recently-destroyed task ids so a straggling take_chunk
// after cleanup doesn't need a map scan to be told the task is gone.
package registry

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coocood/freecache"
	"github.com/twinj/uuid"

	"github.com/voxelstream/voxelstream/voxel"
)

const (
	numTaskShards      = 64
	negativeCacheBytes = 1 << 20 // 1MB, plenty for tombstoned task ids
)

// SlotState is a chunk slot's position in its Pending -> Ready ->
// Consumed state machine. No transition other than those two is legal.
type SlotState int

const (
	Pending SlotState = iota
	Ready
	Consumed
)

// TakeResult is the outcome of a take_chunk call.
type TakeResult int

const (
	TakeNotFound TakeResult = iota
	TakeNotReady
	TakeAlreadyConsumed
	TakeReady
)

func (r TakeResult) String() string {
	switch r {
	case TakeNotFound:
		return "NotFound"
	case TakeNotReady:
		return "NotReady"
	case TakeAlreadyConsumed:
		return "AlreadyConsumed"
	case TakeReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

type chunkSlot struct {
	state SlotState
	bytes []float64
}

type taskEntry struct {
	shape     voxel.Shape
	chunkSize uint64
	chunks    []voxel.ChunkDescriptor
	createdAt time.Time
	ttl       time.Duration

	slotMu []sync.Mutex
	slots  []chunkSlot

	remaining int32 // count of slots not yet Consumed; updated atomically
}

type shard struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

// TaskRegistry is the server-side, purely in-memory holder of TaskData.
type TaskRegistry struct {
	shards   [numTaskShards]*shard
	negative *freecache.Cache
	ttl      time.Duration

	stopSweepCh chan struct{}
	sweepOnce   sync.Once
}

// NewTaskRegistry creates a registry whose tasks expire ttl after
// creation, and starts the background sweep goroutine.
func NewTaskRegistry(ttl time.Duration) *TaskRegistry {
	r := &TaskRegistry{
		negative:    freecache.NewCache(negativeCacheBytes),
		ttl:         ttl,
		stopSweepCh: make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{tasks: make(map[string]*taskEntry)}
	}
	go r.sweepPeriodically(time.Minute)
	return r
}

// Close stops the background sweep goroutine. Safe to call more than once.
func (r *TaskRegistry) Close() {
	r.sweepOnce.Do(func() {
		close(r.stopSweepCh)
	})
}

func (r *TaskRegistry) shardFor(taskID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return r.shards[h.Sum32()%numTaskShards]
}

// Create allocates a fresh task with every slot Pending and returns its
// opaque task id.
func (r *TaskRegistry) Create(shape voxel.Shape, chunkSize uint64, chunks []voxel.ChunkDescriptor) string {
	taskID := uuid.NewV4().String()
	entry := &taskEntry{
		shape:     shape,
		chunkSize: chunkSize,
		chunks:    chunks,
		createdAt: time.Now(),
		ttl:       r.ttl,
		slotMu:    make([]sync.Mutex, len(chunks)),
		slots:     make([]chunkSlot, len(chunks)),
		remaining: int32(len(chunks)),
	}
	sh := r.shardFor(taskID)
	sh.mu.Lock()
	sh.tasks[taskID] = entry
	sh.mu.Unlock()
	return taskID
}

func (r *TaskRegistry) lookup(taskID string) *taskEntry {
	sh := r.shardFor(taskID)
	sh.mu.RLock()
	entry := sh.tasks[taskID]
	sh.mu.RUnlock()
	return entry
}

// SetChunk transitions slot index of taskID from Pending to Ready,
// attaching bytes. Safe to call concurrently for distinct indices of
// the same task.
func (r *TaskRegistry) SetChunk(taskID string, index uint32, bytes []float64) error {
	entry := r.lookup(taskID)
	if entry == nil {
		return voxel.TaskExpiredf(taskID)
	}
	if int(index) >= len(entry.slots) {
		return voxel.Validationf("chunk index %d out of range for task %s", index, taskID)
	}
	entry.slotMu[index].Lock()
	defer entry.slotMu[index].Unlock()

	if entry.slots[index].state != Pending {
		return voxel.Validationf("chunk %d of task %s is not pending", index, taskID)
	}
	entry.slots[index] = chunkSlot{state: Ready, bytes: bytes}
	return nil
}

// TakeChunk attempts to consume slot index of taskID. On TakeReady the
// slot transitions to Consumed and the bytes are returned by move; the
// caller owns them and the registry retains no copy.
func (r *TaskRegistry) TakeChunk(taskID string, index uint32) (TakeResult, []float64) {
	if _, err := r.negative.Get([]byte(taskID)); err == nil {
		return TakeNotFound, nil
	}
	entry := r.lookup(taskID)
	if entry == nil {
		return TakeNotFound, nil
	}
	if int(index) >= len(entry.slots) {
		return TakeNotFound, nil
	}

	entry.slotMu[index].Lock()
	slot := entry.slots[index]
	switch slot.state {
	case Pending:
		entry.slotMu[index].Unlock()
		return TakeNotReady, nil
	case Consumed:
		entry.slotMu[index].Unlock()
		return TakeAlreadyConsumed, nil
	}

	bytes := slot.bytes
	entry.slots[index] = chunkSlot{state: Consumed}
	entry.slotMu[index].Unlock()

	if last := decrementRemaining(entry); last {
		r.destroy(taskID)
	}
	return TakeReady, bytes
}

func decrementRemaining(entry *taskEntry) (last bool) {
	next := atomic.AddInt32(&entry.remaining, -1)
	return next == 0
}

func (r *TaskRegistry) destroy(taskID string) {
	sh := r.shardFor(taskID)
	sh.mu.Lock()
	delete(sh.tasks, taskID)
	sh.mu.Unlock()
	r.negative.Set([]byte(taskID), nil, 300)
}

// Sweep removes every task older than its ttl as of now, recording each
// in the negative cache the way destroy does for a fully-consumed task.
func (r *TaskRegistry) Sweep(now time.Time) int {
	var removed int
	for _, sh := range r.shards {
		sh.mu.Lock()
		for taskID, entry := range sh.tasks {
			if now.Sub(entry.createdAt) > entry.ttl {
				delete(sh.tasks, taskID)
				r.negative.Set([]byte(taskID), nil, 300)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (r *TaskRegistry) sweepPeriodically(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweepCh:
			voxel.Infof("stopping task registry sweep goroutine")
			return
		case <-ticker.C:
			if n := r.Sweep(time.Now()); n > 0 {
				voxel.Debugf("swept %d expired tasks", n)
			}
		}
	}
}
