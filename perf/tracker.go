package perf

import (
	"sync"
	"time"

	"github.com/twinj/uuid"

	"github.com/voxelstream/voxelstream/voxel"
)

// Tracker is a session-scoped recorder. Any number of Trackers created
// with the same sessionID and Store converge on the same record set;
// nothing about a Tracker's own state is shared, so it's safe to create
// one per goroutine.
type Tracker struct {
	sessionID string
	store     Store

	mu      sync.Mutex
	pending map[string]int64 // eventID -> start_ms, for StartEvent/EndEvent pairs
}

// NewTracker creates a tracker for sessionID. If sessionID is empty, a
// fresh opaque id is generated.
func NewTracker(sessionID string, store Store) *Tracker {
	if sessionID == "" {
		sessionID = uuid.NewV4().String()
	}
	return &Tracker{
		sessionID: sessionID,
		store:     store,
		pending:   make(map[string]int64),
	}
}

// SessionID returns the session this tracker writes into.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// StartEvent remembers the current time under eventID for a later
// paired EndEvent call.
func (t *Tracker) StartEvent(eventID string) {
	t.mu.Lock()
	t.pending[eventID] = nowMS()
	t.mu.Unlock()
}

// EndEvent closes out eventID, emitting a record spanning its
// StartEvent call to now. Tracker errors are swallowed: tracing must
// never break a load.
func (t *Tracker) EndEvent(eventID, channelGroup, channelIndex, msg string) {
	t.mu.Lock()
	start, ok := t.pending[eventID]
	if ok {
		delete(t.pending, eventID)
	}
	t.mu.Unlock()
	if !ok {
		voxel.Warningf("EndEvent(%s) with no matching StartEvent", eventID)
		return
	}
	t.emit(Record{StartMS: start, EndMS: nowMS(), ChannelGroup: channelGroup, ChannelIndex: channelIndex, Msg: msg})
}

// RecordEvent emits a record directly, defaulting either timestamp to
// now if zero.
func (t *Tracker) RecordEvent(channelGroup, channelIndex, msg string, startMS, endMS int64) {
	if startMS == 0 {
		startMS = nowMS()
	}
	if endMS == 0 {
		endMS = nowMS()
	}
	t.emit(Record{StartMS: startMS, EndMS: endMS, ChannelGroup: channelGroup, ChannelIndex: channelIndex, Msg: msg})
}

func (t *Tracker) emit(r Record) {
	if t.store == nil {
		return
	}
	if err := t.store.Append(t.sessionID, r); err != nil {
		voxel.Warningf("tracker append for session %s: %v", t.sessionID, err)
	}
}

// Complete flushes nothing further (every emit already persisted) and
// returns the session envelope, with start/end recomputed from every
// record currently in the store.
func (t *Tracker) Complete() (Session, error) {
	records, err := t.store.Records(t.sessionID)
	if err != nil {
		return Session{}, err
	}
	return envelope(t.sessionID, records), nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

// envelope builds a Session from a flat record list, recomputing the
// min/max span. An empty record list yields zero-valued bounds.
func envelope(sessionID string, records []Record) Session {
	s := Session{SessionID: sessionID, Records: records}
	for i, r := range records {
		if i == 0 || r.StartMS < s.SessionStartMS {
			s.SessionStartMS = r.StartMS
		}
		if i == 0 || r.EndMS > s.SessionEndMS {
			s.SessionEndMS = r.EndMS
		}
	}
	return s
}

// MergeServerRecords unions local with server-observed records and
// recomputes the session envelope's bounds: the union preserves every
// record, session_start_ms == min(start) and session_end_ms ==
// max(end) over the union.
func MergeServerRecords(sessionID string, local, server []Record) Session {
	merged := make([]Record, 0, len(local)+len(server))
	merged = append(merged, local...)
	merged = append(merged, server...)
	return envelope(sessionID, merged)
}
