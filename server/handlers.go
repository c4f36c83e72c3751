package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/voxelstream/voxelstream/parser"
	"github.com/voxelstream/voxelstream/perf"
	"github.com/voxelstream/voxelstream/registry"
	"github.com/voxelstream/voxelstream/voxel"
)

func (s *Service) routes(mux *http.ServeMux) {
	mux.HandleFunc("/voxel-grid/preprocess", s.handlePreprocess)
	mux.HandleFunc("/voxel-grid/chunk", s.handleChunk)
	mux.HandleFunc("/performance", s.handlePerformance)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

type preprocessRequest struct {
	File      string `json:"file"`
	ChunkSize uint64 `json:"chunk_size"`
	SessionID string `json:"session_id"`
}

func (s *Service) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("preprocess requires POST"))
		return
	}
	var req preprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, voxel.Validationf("decoding request body: %v", err))
		return
	}

	start := time.Now()
	resp, err := s.preprocess.Preprocess(req.File, req.ChunkSize)
	if err != nil {
		writePreprocessError(w, err)
		return
	}
	s.recordServerEvent(req.SessionID, "preprocess", resp.TaskID, start)
	writeJSON(w, http.StatusOK, resp)
}

func writePreprocessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voxel.ErrValidation), errors.Is(err, voxel.ErrUnknownFile), errors.Is(err, voxel.ErrParserNotFound):
		BadRequest(w, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Service) handleChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("chunk requires GET"))
		return
	}
	q := r.URL.Query()
	taskID := q.Get("task_id")
	sessionID := q.Get("session_id")
	chunkIndex, err := strconv.ParseUint(q.Get("chunk_index"), 10, 32)
	if err != nil {
		BadRequest(w, voxel.Validationf("invalid chunk_index: %v", err))
		return
	}

	start := time.Now()
	result, bytes := s.chunk.TakeChunk(taskID, uint32(chunkIndex))
	switch result {
	case registry.TakeNotFound:
		writeError(w, http.StatusNotFound, voxel.TaskExpiredf(taskID))
	case registry.TakeNotReady:
		w.WriteHeader(http.StatusAccepted)
	case registry.TakeAlreadyConsumed:
		writeError(w, http.StatusBadRequest, voxel.ChunkGonef(uint32(chunkIndex)))
	case registry.TakeReady:
		s.recordServerEvent(sessionID, "chunk", taskID, start)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(bytes)
	}
}

func (s *Service) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("performance requires GET"))
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	resp, err := s.perfSvc.Records(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"parsers": parser.Registered(),
	})
}

// recordServerEvent appends a trace record for a server-side operation
// against sessionID, swallowing any error: tracing must never affect a
// request's outcome.
func (s *Service) recordServerEvent(sessionID, channelGroup, channelIndex string, start time.Time) {
	if sessionID == "" {
		return
	}
	now := time.Now().UnixMilli()
	rec := perf.Record{StartMS: start.UnixMilli(), EndMS: now, ChannelGroup: channelGroup, ChannelIndex: channelIndex, Msg: "server"}
	if err := s.perfSvc.Append(sessionID, rec); err != nil {
		voxel.Warningf("recording server perf event: %v", err)
	}
}
