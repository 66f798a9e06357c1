package broadcast

import (
	"time"

	"github.com/google/uuid"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// Session identifies one active share. A sharer who stops and starts again
// gets a fresh session id, which is what tells receivers to rebuild their
// buffers instead of resuming the old stream.
type Session struct {
	ID       uuid.UUID
	SharerID string
	GroupID  string
	Width    int
	Height   int
	FPS      int

	StartedAt time.Time

	pipeline *Pipeline
}

// Profile returns the current encoding profile snapshot.
func (s *Session) Profile() media.Profile {
	return s.pipeline.quality.Profile()
}

// Stats returns a point-in-time snapshot of the session's pipeline.
func (s *Session) Stats() Stats {
	return s.pipeline.Stats()
}

// Stats is a JSON-friendly snapshot of one share pipeline's counters.
type Stats struct {
	Captured       uint64 `json:"captured"`
	Encoded        uint64 `json:"encoded"`
	Skipped        uint64 `json:"skipped"`
	Sent           uint64 `json:"sent"`
	BytesSent      uint64 `json:"bytesSent"`
	LastSeq        uint64 `json:"lastSeq"`
	MailboxDropped uint64 `json:"mailboxDropped"`
	QueueDropped   uint64 `json:"queueDropped"`
	QueueDepth     int    `json:"queueDepth"`
	Quality        int    `json:"quality"`
	Resolution     string `json:"resolution"`
	QualityState   string `json:"qualityState"`
	Encoder        string `json:"encoder"`
}
