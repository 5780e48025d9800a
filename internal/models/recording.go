package models

import (
	"fmt"
	"time"
)

// Session states of a recording run.
const (
	SessionStateIdle      = "idle"
	SessionStateCapturing = "capturing"
	SessionStateStopping  = "stopping"
	SessionStateStopped   = "stopped"
	SessionStateUploaded  = "uploaded"
)

// LibraryEntry is a recording as listed by the remote store.
type LibraryEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int       `json:"duration"`
	ShareLink string    `json:"shareLink,omitempty"`
}

// RecordingInfo summarizes a finalized recording for display.
type RecordingInfo struct {
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Duration  int       `json:"duration"`
	Elapsed   string    `json:"elapsed"`
	SizeBytes int64     `json:"size_bytes"`
	SizeMB    string    `json:"size_mb"`
	CreatedAt time.Time `json:"created_at"`
	RemoteID  string    `json:"remote_id,omitempty"`
	ShareLink string    `json:"share_link,omitempty"`
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// FormatSizeMB renders a byte count in megabytes with two decimals.
func FormatSizeMB(size int64) string {
	return fmt.Sprintf("%.2f", float64(size)/(1024*1024))
}
