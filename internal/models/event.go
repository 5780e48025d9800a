package models

import (
	"time"

	"github.com/google/uuid"
)

// Session event types.
const (
	EventStateChanged  = "state_changed"
	EventTick          = "tick"
	EventUploaded      = "uploaded"
	EventUploadFailed  = "upload_failed"
	EventCaptureEnded  = "capture_ended"
	EventArtifactReady = "artifact_ready"
)

// SessionEvent is emitted by a recording session and fanned out to UI and mirrors.
type SessionEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	State     string    `json:"state"`
	Elapsed   string    `json:"elapsed,omitempty"`
	Seconds   int       `json:"seconds,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}
