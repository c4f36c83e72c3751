package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxelstream/voxelstream/cache"
	"github.com/voxelstream/voxelstream/perf"
	"github.com/voxelstream/voxelstream/voxel"
)

// MaxLanes is the fixed ceiling on concurrently-running lane workers.
// A configured value may be lower but must never exceed this.
const MaxLanes = 5

// LoadResult is what DataSource.LoadData hands back on success.
type LoadResult struct {
	Shape        voxel.Shape
	DataLength   uint64
	Doubles      []float64
	Min          float64
	Max          float64
	TaskID       string
	FetchMs      int64
	AllFromCache bool
}

// DataSource is the client-side orchestrator: it consults the layout
// and byte caches, calls preprocess only when needed, fans chunk misses
// out across a bounded set of lanes, merges results in index order, and
// schedules cache writeback on idle.
type DataSource struct {
	BaseURL    string
	HTTPClient *http.Client
	Layout     *cache.LayoutStore
	Bytes      *cache.ByteStore
	Writeback  *cache.Writeback
	Lanes      int // 0 means MaxLanes
}

type chunkOutcome struct {
	result    ChunkResult
	fromCache bool
}

// LoadData runs the full client-side load algorithm: layout
// short-circuit, then byte-cache short-circuit, then preprocess and
// fan-out fetch for whatever misses remain, merged back in index order.
func (d *DataSource) LoadData(ctx context.Context, file string, chunkSize uint64, tracker *perf.Tracker) (LoadResult, error) {
	start := time.Now()
	sessionID := ""
	if tracker != nil {
		sessionID = tracker.SessionID()
	}

	layout, hasLayout := d.Layout.Get(file, chunkSize)
	var chunks []voxel.ChunkDescriptor
	var shape voxel.Shape
	var dataLength uint64
	taskID := ""

	if hasLayout {
		outcomes, allHit := d.tryAllCached(layout.Chunks, file, chunkSize)
		if allHit {
			return d.merge(file, chunkSize, layout.Shape, layout.DataLength, outcomes, "", start)
		}
		chunks, shape, dataLength = layout.Chunks, layout.Shape, layout.DataLength
	}

	if !hasLayout || chunks == nil {
		resp, err := d.preprocess(ctx, file, chunkSize, sessionID)
		if err != nil {
			return LoadResult{}, err
		}
		shape = voxel.Shape{X: resp.Shape[0], Y: resp.Shape[1], Z: resp.Shape[2]}
		dataLength = resp.DataLength
		chunks = resp.Chunks
		taskID = resp.TaskID
		if err := d.Layout.Put(file, chunkSize, cache.LayoutRecord{Shape: shape, Chunks: chunks, DataLength: dataLength}); err != nil {
			voxel.Warningf("layout cache put for %s: %v", file, err)
		}
	}

	if len(chunks) == 0 {
		return LoadResult{Shape: shape, DataLength: 0, Doubles: nil, TaskID: taskID, FetchMs: time.Since(start).Milliseconds(), AllFromCache: false}, nil
	}

	if taskID == "" {
		// Layout existed but a per-chunk byte-cache get missed after all;
		// that covers the partial-clear case and always retakes the full
		// preprocess path.
		resp, err := d.preprocess(ctx, file, chunkSize, sessionID)
		if err != nil {
			return LoadResult{}, err
		}
		taskID = resp.TaskID
		chunks = resp.Chunks
	}

	outcomes, err := d.fetchMisses(ctx, file, chunkSize, taskID, chunks, sessionID)
	if err != nil {
		return LoadResult{}, err
	}
	return d.merge(file, chunkSize, shape, dataLength, outcomes, taskID, start)
}

// tryAllCached looks up every chunk in the byte cache. If every lookup
// hits, it returns results ready for merging and allHit == true.
func (d *DataSource) tryAllCached(chunks []voxel.ChunkDescriptor, file string, chunkSize uint64) (map[uint32]chunkOutcome, bool) {
	outcomes := make(map[uint32]chunkOutcome, len(chunks))
	for _, c := range chunks {
		cached, found, err := d.Bytes.Get(file, chunkSize, c.Index)
		if err != nil {
			voxel.Warningf("byte cache get for %s chunk %d: %v", file, c.Index, err)
		}
		if !found {
			return nil, false
		}
		doubles, err := decodeCachedBytes(cached.Bytes)
		if err != nil {
			voxel.Warningf("decoding cached chunk %d of %s: %v", c.Index, file, err)
			return nil, false
		}
		outcomes[c.Index] = chunkOutcome{result: ChunkResult{Index: c.Index, Doubles: doubles, Min: cached.Min, Max: cached.Max}, fromCache: true}
	}
	return outcomes, true
}

// fetchMisses resolves every chunk, serving cache hits immediately and
// fetching cache misses concurrently, at most MaxLanes (or the
// configured Lanes, whichever is lower) at a time.
func (d *DataSource) fetchMisses(ctx context.Context, file string, chunkSize uint64, taskID string, chunks []voxel.ChunkDescriptor, sessionID string) (map[uint32]chunkOutcome, error) {
	outcomes := make(map[uint32]chunkOutcome, len(chunks))
	var misses []voxel.ChunkDescriptor
	for _, c := range chunks {
		cached, found, err := d.Bytes.Get(file, chunkSize, c.Index)
		if err != nil {
			voxel.Warningf("byte cache get for %s chunk %d: %v", file, c.Index, err)
		}
		if found {
			doubles, err := decodeCachedBytes(cached.Bytes)
			if err == nil {
				outcomes[c.Index] = chunkOutcome{result: ChunkResult{Index: c.Index, Doubles: doubles, Min: cached.Min, Max: cached.Max}, fromCache: true}
				continue
			}
		}
		misses = append(misses, c)
	}
	if len(misses) == 0 {
		return outcomes, nil
	}

	lanes := d.Lanes
	if lanes <= 0 || lanes > MaxLanes {
		lanes = MaxLanes
	}
	if lanes > len(misses) {
		lanes = len(misses)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lanes)
	results := make([]ChunkResult, len(misses))
	for i, c := range misses {
		i, c := i, c
		g.Go(func() error {
			result, err := FetchChunk(gctx, d.HTTPClient, d.BaseURL, taskID, c, sessionID)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		outcomes[r.Index] = chunkOutcome{result: r, fromCache: false}
	}
	return outcomes, nil
}

// merge sorts outcomes by chunk index, concatenates their payloads into
// one contiguous buffer, computes the global min/max, and schedules
// writeback for every network-sourced chunk.
func (d *DataSource) merge(file string, chunkSize uint64, shape voxel.Shape, dataLength uint64, outcomes map[uint32]chunkOutcome, taskID string, start time.Time) (LoadResult, error) {
	indices := make([]uint32, 0, len(outcomes))
	for idx := range outcomes {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	doubles := make([]float64, 0, dataLength)
	allFromCache := true
	var globalMin, globalMax float64
	first := true
	now := time.Now().UnixMilli()
	for _, idx := range indices {
		oc := outcomes[idx]
		doubles = append(doubles, oc.result.Doubles...)
		if !oc.fromCache {
			allFromCache = false
			if d.Writeback != nil {
				// The writeback gets its own little-endian encoding of the
				// chunk, separate from the merged buffer above.
				encoded := encodeDoublesLE(oc.result.Doubles)
				d.Writeback.Schedule(file, chunkSize, idx, cache.CachedChunk{
					Bytes: encoded, Min: oc.result.Min, Max: oc.result.Max, TimestampMS: now,
				})
			}
		}
		if first {
			globalMin, globalMax = oc.result.Min, oc.result.Max
			first = false
		} else {
			if oc.result.Min < globalMin {
				globalMin = oc.result.Min
			}
			if oc.result.Max > globalMax {
				globalMax = oc.result.Max
			}
		}
	}
	if uint64(len(doubles)) != dataLength {
		return LoadResult{}, voxel.MergeSizeMismatchf(dataLength, uint64(len(doubles)))
	}

	return LoadResult{
		Shape: shape, DataLength: dataLength, Doubles: doubles,
		Min: globalMin, Max: globalMax, TaskID: taskID,
		FetchMs: time.Since(start).Milliseconds(), AllFromCache: allFromCache,
	}, nil
}

// preprocessResponse mirrors service.PreprocessResponse's wire shape.
type preprocessResponse struct {
	TaskID     string                  `json:"task_id"`
	File       string                  `json:"file"`
	FileSize   int64                   `json:"file_size"`
	Shape      [3]uint64               `json:"shape"`
	DataLength uint64                  `json:"data_length"`
	ChunkSize  uint64                  `json:"chunk_size"`
	Chunks     []voxel.ChunkDescriptor `json:"chunks"`
}

func (d *DataSource) preprocess(ctx context.Context, file string, chunkSize uint64, sessionID string) (preprocessResponse, error) {
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return preprocessResponse{}, voxel.Transportf("parsing base URL: %v", err)
	}
	u.Path = joinPath(u.Path, "voxel-grid/preprocess")

	body := map[string]interface{}{"file": file, "chunk_size": chunkSize}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return preprocessResponse{}, voxel.Transportf("encoding preprocess request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(encoded))
	if err != nil {
		return preprocessResponse{}, voxel.Transportf("building preprocess request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return preprocessResponse{}, voxel.Transportf("preprocess: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return preprocessResponse{}, voxel.Validationf("preprocess %s: server returned %d", file, resp.StatusCode)
	}

	var out preprocessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return preprocessResponse{}, voxel.Transportf("decoding preprocess response: %v", err)
	}
	return out, nil
}

func decodeCachedBytes(raw []byte) ([]float64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("cached payload length %d not a multiple of 8", len(raw))
	}
	doubles := make([]float64, len(raw)/8)
	for i := range doubles {
		bits := binary.LittleEndian.Uint64(raw[i*8 : i*8+8])
		doubles[i] = math.Float64frombits(bits)
	}
	return doubles, nil
}

func encodeDoublesLE(doubles []float64) []byte {
	buf := make([]byte, len(doubles)*8)
	for i, d := range doubles {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], math.Float64bits(d))
	}
	return buf
}
