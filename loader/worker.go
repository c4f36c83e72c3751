// Package loader implements the client half: DataSource, which
// orchestrates cache lookups, preprocessing, and fan-out across a
// bounded pool of lane workers, and the lane worker itself, which polls
// a single chunk with exponential backoff.
package loader

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voxelstream/voxelstream/voxel"
)

const (
	baseBackoff = 100 * time.Millisecond
	maxAttempts = 10
)

// ChunkResult is what a lane worker hands back for one chunk: the
// decoded doubles plus the local min/max computed over them.
type ChunkResult struct {
	Index   uint32
	Doubles []float64
	Min     float64
	Max     float64
}

// errorBody is the best-effort shape of a server error response.
type errorBody struct {
	Error string `json:"error"`
}

// FetchChunk runs the retry state machine for a single chunk: issue a
// GET, and on 202 sleep 100*2^attempts ms before retrying, for up to
// maxAttempts attempts, giving the exact sequence
// 100, 200, 400, ..., 51200 ms (computed before the attempt counter is
// incremented) before surfacing ChunkTimeout.
func FetchChunk(ctx context.Context, client *http.Client, baseURL, taskID string, desc voxel.ChunkDescriptor, sessionID string) (ChunkResult, error) {
	if client == nil {
		client = http.DefaultClient
	}
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return ChunkResult{}, err
		}

		req, err := newChunkRequest(ctx, baseURL, taskID, desc.Index, sessionID)
		if err != nil {
			return ChunkResult{}, voxel.Transportf("building chunk request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return ChunkResult{}, voxel.Transportf("chunk %d: %v", desc.Index, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			result, err := decodeChunkBody(resp, desc.Index)
			resp.Body.Close()
			return result, err

		case http.StatusAccepted:
			resp.Body.Close()
			if attempts == maxAttempts {
				return ChunkResult{}, voxel.ChunkTimeoutf(desc.Index, attempts)
			}
			delay := baseBackoff * time.Duration(1<<uint(attempts))
			attempts++
			if err := sleepCtx(ctx, delay); err != nil {
				return ChunkResult{}, err
			}
			continue

		case http.StatusBadRequest:
			resp.Body.Close()
			return ChunkResult{}, voxel.ChunkGonef(desc.Index)

		case http.StatusNotFound:
			resp.Body.Close()
			return ChunkResult{}, voxel.TaskExpiredf(taskID)

		default:
			msg := readErrorBody(resp)
			resp.Body.Close()
			return ChunkResult{}, voxel.Transportf("chunk %d: unexpected status %d: %s", desc.Index, resp.StatusCode, msg)
		}
	}
}

func newChunkRequest(ctx context.Context, baseURL, taskID string, chunkIndex uint32, sessionID string) (*http.Request, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = joinPath(u.Path, "voxel-grid/chunk")
	q := u.Query()
	q.Set("task_id", taskID)
	q.Set("chunk_index", strconv.FormatUint(uint64(chunkIndex), 10))
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func decodeChunkBody(resp *http.Response, index uint32) (ChunkResult, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChunkResult{}, voxel.Transportf("chunk %d: reading body: %v", index, err)
	}
	if len(body)%8 != 0 {
		return ChunkResult{}, voxel.Transportf("chunk %d: body length %d is not a multiple of 8", index, len(body))
	}
	if len(body) == 0 {
		return ChunkResult{}, voxel.Validationf("chunk %d: empty payload, min/max undefined", index)
	}

	doubles := make([]float64, len(body)/8)
	for i := range doubles {
		bits := binary.LittleEndian.Uint64(body[i*8 : i*8+8])
		doubles[i] = math.Float64frombits(bits)
	}

	min, max := doubles[0], doubles[0]
	for _, d := range doubles[1:] {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return ChunkResult{Index: index, Doubles: doubles, Min: min, Max: max}, nil
}

func readErrorBody(resp *http.Response) string {
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinPath(base, elem string) string {
	if base == "" || base == "/" {
		return "/" + elem
	}
	if base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}
