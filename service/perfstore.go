package service

import "github.com/voxelstream/voxelstream/perf"

// PerfResponse is the wire shape for GET /performance.
type PerfResponse struct {
	SessionID string        `json:"session_id"`
	Records   []perf.Record `json:"records"`
}

// PerfService answers GET /performance by reading back the records the
// server itself recorded against a session_id.
type PerfService struct {
	Store perf.Store
}

// Records returns the session's records, or an empty slice if the
// session_id is unknown; an unknown session is not an error, since a
// client may legitimately ask before the server has recorded anything.
func (s *PerfService) Records(sessionID string) (PerfResponse, error) {
	records, err := s.Store.Records(sessionID)
	if err != nil {
		return PerfResponse{}, err
	}
	return PerfResponse{SessionID: sessionID, Records: records}, nil
}

// Append records a server-side trace event against sessionID, e.g. from
// PreprocessService or ChunkService, so it is available for a later
// client-side merge.
func (s *PerfService) Append(sessionID string, r perf.Record) error {
	if sessionID == "" {
		return nil
	}
	return s.Store.Append(sessionID, r)
}
