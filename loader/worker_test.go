package loader

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxelstream/voxelstream/voxel"
)

// TestFetchChunk202ThenReady checks the backoff schedule for a small
// k: a chunk that answers 202 exactly twice before 200 should see a
// total in-worker wait of 100+200 = 300ms, within scheduler slack.
func TestFetchChunk202ThenReady(t *testing.T) {
	var attempts int32
	mux := http.NewServeMux()
	mux.HandleFunc("/voxel-grid/chunk", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(42))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	start := time.Now()
	result, err := FetchChunk(context.Background(), srv.Client(), srv.URL, "task-1", voxel.ChunkDescriptor{Index: 0, Start: 0, End: 1}, "")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("FetchChunk: %v", err)
	}
	if len(result.Doubles) != 1 || result.Doubles[0] != 42 {
		t.Fatalf("unexpected result %+v", result)
	}
	want := 300 * time.Millisecond
	if elapsed < want || elapsed > want+500*time.Millisecond {
		t.Fatalf("elapsed %v, want approximately %v", elapsed, want)
	}
}

func TestFetchChunk202ForeverRetriesUntilContextDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/voxel-grid/chunk", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Use a short context deadline rather than waiting out the ~102s
	// worst-case schedule: the deadline lands during the third backoff
	// sleep (after 100ms and 200ms), and the error must be that context
	// error, not a premature success.
	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	_, err := FetchChunk(ctx, srv.Client(), srv.URL, "task-1", voxel.ChunkDescriptor{Index: 1, Start: 0, End: 1}, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context deadline error when the server never returns 200, got %v", err)
	}
}

func TestFetchChunkGone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/voxel-grid/chunk", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := FetchChunk(context.Background(), srv.Client(), srv.URL, "task-1", voxel.ChunkDescriptor{Index: 0, Start: 0, End: 1}, "")
	if err == nil {
		t.Fatalf("expected a ChunkGone error on 400")
	}
}

func TestFetchChunkTaskExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/voxel-grid/chunk", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := FetchChunk(context.Background(), srv.Client(), srv.URL, "task-1", voxel.ChunkDescriptor{Index: 0, Start: 0, End: 1}, "")
	if err == nil {
		t.Fatalf("expected a TaskExpired error on 404")
	}
}
