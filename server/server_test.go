package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/voxelstream/voxelstream/parser"
	"github.com/voxelstream/voxelstream/voxel"
)

// testHTTP drives a request straight through the Service's handler.
func testHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("building %s %s: %v", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Server.DataRoot = dir
	cfg.Server.PerfStorePath = filepath.Join(dir, "perf")
	cfg.Task.TTLMinutes = 10

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc, dir
}

func writeGridFixture(t *testing.T, dir, name string, shape voxel.Shape) {
	t.Helper()
	doubles := make([]float64, shape.DataLength())
	for i := range doubles {
		doubles[i] = float64(i)
	}
	var buf bytes.Buffer
	if err := parser.EncodeRawgrid(&buf, shape, doubles, false); err != nil {
		t.Fatalf("EncodeRawgrid: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
}

func TestHealthzListsRegisteredParsers(t *testing.T) {
	svc, _ := newTestService(t)
	resp := testHTTP(t, svc.Handler(), http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding healthz body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
}

func TestPreprocessAndChunkHappyPath(t *testing.T) {
	svc, dir := newTestService(t)
	writeGridFixture(t, dir, "grid.vgrid", voxel.Shape{X: 4, Y: 4, Z: 4})

	body, _ := json.Marshal(map[string]interface{}{"file": "grid.vgrid", "chunk_size": 20})
	resp := testHTTP(t, svc.Handler(), http.MethodPost, "/voxel-grid/preprocess", bytes.NewReader(body))
	if resp.Code != http.StatusOK {
		t.Fatalf("preprocess status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var pre struct {
		TaskID string `json:"task_id"`
		Chunks []voxel.ChunkDescriptor
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &pre); err != nil {
		t.Fatalf("decoding preprocess response: %v", err)
	}
	if len(pre.Chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(pre.Chunks))
	}

	deadline := pollUntilReady(t, svc, pre.TaskID, 0)
	if !deadline {
		t.Fatalf("chunk 0 never became ready")
	}
}

func pollUntilReady(t *testing.T, svc *Service, taskID string, chunkIndex uint32) bool {
	t.Helper()
	for i := 0; i < 200; i++ {
		url := "/voxel-grid/chunk?task_id=" + taskID + "&chunk_index=" + strconv.FormatUint(uint64(chunkIndex), 10)
		resp := testHTTP(t, svc.Handler(), http.MethodGet, url, nil)
		switch resp.Code {
		case http.StatusOK:
			if resp.Body.Len()%8 != 0 {
				t.Fatalf("chunk body length %d not a multiple of 8", resp.Body.Len())
			}
			return true
		case http.StatusAccepted:
			time.Sleep(5 * time.Millisecond)
			continue
		default:
			t.Fatalf("unexpected chunk status %d", resp.Code)
		}
	}
	return false
}

func TestChunkNotFoundForUnknownTask(t *testing.T) {
	svc, _ := newTestService(t)
	resp := testHTTP(t, svc.Handler(), http.MethodGet, "/voxel-grid/chunk?task_id=nope&chunk_index=0", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestPreprocessRejectsMissingFile(t *testing.T) {
	svc, _ := newTestService(t)
	body, _ := json.Marshal(map[string]interface{}{"file": "missing.vgrid", "chunk_size": 20})
	resp := testHTTP(t, svc.Handler(), http.MethodPost, "/voxel-grid/preprocess", bytes.NewReader(body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

// TestS6ConcurrentConsumersOneWinsOneSeesChunkGone races two requests
// for the same (task_id, chunk_index) after the chunk is already Ready:
// exactly one sees 200, the other 400 ChunkGone. The grid is split into
// four chunks and readiness is awaited on the last one, which that poll
// consumes: with voxel.NumCPU at 1 the background fill sets slots in
// index order, so chunk 0 is Ready by then, and chunks 1 and 2 stay
// unconsumed so the task is not destroyed during the race.
func TestS6ConcurrentConsumersOneWinsOneSeesChunkGone(t *testing.T) {
	svc, dir := newTestService(t)
	writeGridFixture(t, dir, "grid.vgrid", voxel.Shape{X: 2, Y: 2, Z: 2})

	body, _ := json.Marshal(map[string]interface{}{"file": "grid.vgrid", "chunk_size": 2})
	resp := testHTTP(t, svc.Handler(), http.MethodPost, "/voxel-grid/preprocess", bytes.NewReader(body))
	var pre struct {
		TaskID string `json:"task_id"`
	}
	json.Unmarshal(resp.Body.Bytes(), &pre)

	if !pollUntilReady(t, svc, pre.TaskID, 3) {
		t.Fatalf("chunk 3 never became ready")
	}

	url := "/voxel-grid/chunk?task_id=" + pre.TaskID + "&chunk_index=0"
	codes := make([]int, 2)
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			codes[i] = testHTTP(t, svc.Handler(), http.MethodGet, url, nil).Code
			done <- struct{}{}
		}(i)
	}
	<-done
	<-done

	oks, bads := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			oks++
		case http.StatusBadRequest:
			bads++
		}
	}
	if oks != 1 || bads != 1 {
		t.Fatalf("expected exactly one 200 and one 400, got codes %v", codes)
	}
}

func decodeLEFloat64s(raw []byte) []float64 {
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8 : i*8+8]))
	}
	return out
}
