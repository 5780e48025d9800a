package recorder

import "errors"

var (
	ErrCaptureDenied      = errors.New("screen capture was denied")
	ErrCaptureUnavailable = errors.New("screen capture is unavailable")
	ErrAlreadyCapturing   = errors.New("a recording is already in progress")
	ErrNotStopped         = errors.New("recording is not stopped")
	ErrEmptyName          = errors.New("name must not be empty")
	ErrNoArtifact         = errors.New("no recording available")
	ErrNotUploaded        = errors.New("recording has not been uploaded")
)
