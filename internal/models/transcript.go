// Package models defines the data structures for transcript audit events.
package models

// TranscriptCommit represents one committed transcript update, carrying the
// session's monotonic sequence number for persistence and audit.
type TranscriptCommit struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	MeetingID string `json:"meetingId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	Tier      string `json:"tier"`
	Text      string `json:"text"`
}

// TranscriptFinal represents the authoritative polished transcript emitted
// once per session at finalization.
type TranscriptFinal struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	MeetingID string `json:"meetingId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	Text      string `json:"text"`
	Trigger   string `json:"trigger"` // "final" or "timeout"
}
