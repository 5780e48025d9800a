package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/capture"
	"github.com/aura-webinar/screenrec/internal/library"
	"github.com/aura-webinar/screenrec/internal/models"
)

// Timeslice is how often the capture source delivers a chunk.
const Timeslice = time.Second

// Library is the part of the recordings store a session talks to.
type Library interface {
	Upload(ctx context.Context, token string, req library.UploadRequest) (library.UploadResult, error)
	RenameEntry(ctx context.Context, id, name, token string) error
	ShareLink(ctx context.Context, id, token string) (string, error)
}

// TokenSource supplies the bearer token for store requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// PreviewSink receives the live chunks while a capture runs.
type PreviewSink interface {
	Attach(streamID, mimeType string)
	Write(chunk []byte)
	Detach(streamID string)
}

// EventSink receives session events. Publish must not block.
type EventSink interface {
	Publish(ev models.SessionEvent)
}

// Exporter writes a payload somewhere the user can fetch it and returns its location.
type Exporter interface {
	Export(ctx context.Context, name, mimeType string, payload io.Reader, size int64) (string, error)
}

// Options wires a Session. Source, Library and Tokens are required.
type Options struct {
	Source       capture.Source
	Library      Library
	Tokens       TokenSource
	Preview      PreviewSink
	Events       EventSink
	CaptureAudio bool
	Logger       *zap.Logger
}

// Session runs one screen recording at a time: Idle -> Capturing -> Stopped -> Uploaded.
// Starting again from Stopped or Uploaded begins a new run and drops the previous artifact.
type Session struct {
	source  capture.Source
	library Library
	tokens  TokenSource
	preview PreviewSink
	events  EventSink
	audio   bool
	log     *zap.Logger

	now       func() time.Time
	tickEvery time.Duration

	mu        sync.Mutex
	state     string
	starting  bool
	runID     uuid.UUID
	stream    capture.Stream
	chunks    [][]byte
	size      int64
	startedAt time.Time
	stoppedAt time.Time
	artifact  *Artifact
	tickStop  chan struct{}
	loopDone  chan struct{}
	stopped   chan struct{}

	uploadMu sync.Mutex
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		source:    opts.Source,
		library:   opts.Library,
		tokens:    opts.Tokens,
		preview:   opts.Preview,
		events:    opts.Events,
		audio:     opts.CaptureAudio,
		log:       log.With(zap.String("component", "recorder")),
		now:       time.Now,
		tickEvery: time.Second,
		state:     models.SessionStateIdle,
	}
}

// Start opens a capture stream and begins collecting chunks.
// It fails fast with ErrAlreadyCapturing while another capture is starting or running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting || s.state == models.SessionStateCapturing || s.state == models.SessionStateStopping {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	s.starting = true
	s.mu.Unlock()

	stream, err := s.source.Open(ctx, capture.Constraints{Audio: s.audio, Timeslice: Timeslice})

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("capture not started", zap.Error(err))
		return captureError(err)
	}
	runID := uuid.New()
	tickStop := make(chan struct{})
	loopDone := make(chan struct{})
	s.runID = runID
	s.stream = stream
	s.state = models.SessionStateCapturing
	s.chunks = nil
	s.size = 0
	s.startedAt = s.now()
	s.stoppedAt = time.Time{}
	s.artifact = nil
	s.tickStop = tickStop
	s.loopDone = loopDone
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	if s.preview != nil {
		s.preview.Attach(stream.ID(), stream.MimeType())
	}
	go s.consume(runID, stream, loopDone)
	go s.tick(runID, tickStop)

	s.log.Info("recording started", zap.String("run_id", runID.String()), zap.String("stream_id", stream.ID()), zap.String("mime_type", stream.MimeType()))
	s.publish(runID, models.EventStateChanged, models.SessionStateCapturing, "")
	return nil
}

func captureError(err error) error {
	if errors.Is(err, capture.ErrPermissionDenied) {
		return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
}

// consume appends chunks in delivery order until the stream closes its channel.
func (s *Session) consume(runID uuid.UUID, stream capture.Stream, done chan struct{}) {
	ended := false
	defer func() {
		close(done)
		if !ended {
			// channel closed without an end event: either our own Stop or a dead source
			go s.stopRun(context.Background(), runID, true)
		}
	}()

	for ev := range stream.Events() {
		switch ev.Kind {
		case capture.EventChunk:
			if len(ev.Data) == 0 {
				continue
			}
			s.mu.Lock()
			if s.runID == runID {
				s.chunks = append(s.chunks, ev.Data)
				s.size += int64(len(ev.Data))
			}
			s.mu.Unlock()
			if s.preview != nil {
				s.preview.Write(ev.Data)
			}
		case capture.EventEnded:
			if !ended {
				ended = true
				go s.stopRun(context.Background(), runID, true)
			}
		}
	}
}

func (s *Session) tick(runID uuid.UUID, stop <-chan struct{}) {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			secs := s.Snapshot().Seconds
			s.emit(models.SessionEvent{
				Type:      models.EventTick,
				SessionID: runID,
				State:     models.SessionStateCapturing,
				Seconds:   secs,
				Elapsed:   models.FormatDuration(secs),
			})
		}
	}
}

// Stop ends the capture and returns the finalized artifact. From any state other than
// Capturing it changes nothing and returns the current artifact, which may be nil.
func (s *Session) Stop(ctx context.Context) (*Artifact, error) {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	return s.stopRun(ctx, runID, false)
}

// stopRun performs Capturing -> Stopping -> Stopped for runID. Only the caller that wins
// the Capturing -> Stopping transition closes the stream.
func (s *Session) stopRun(ctx context.Context, runID uuid.UUID, external bool) (*Artifact, error) {
	s.mu.Lock()
	if s.runID != runID {
		s.mu.Unlock()
		return nil, nil
	}
	switch s.state {
	case models.SessionStateCapturing:
	case models.SessionStateStopping:
		stopped := s.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
		a := s.artifact
		s.mu.Unlock()
		return a, nil
	default:
		a := s.artifact
		s.mu.Unlock()
		return a, nil
	}

	s.state = models.SessionStateStopping
	s.stoppedAt = s.now()
	stream, tickStop, loopDone, stopped := s.stream, s.tickStop, s.loopDone, s.stopped
	s.mu.Unlock()

	close(tickStop)
	s.publish(runID, models.EventStateChanged, models.SessionStateStopping, "")
	if err := stream.Close(); err != nil {
		s.log.Warn("closing capture stream", zap.Error(err))
	}
	<-loopDone
	if s.preview != nil {
		s.preview.Detach(stream.ID())
	}

	s.mu.Lock()
	a := newArtifact(s.chunks, stream.MimeType(), s.startedAt, s.stoppedAt)
	s.artifact = a
	s.chunks = nil
	s.stream = nil
	s.state = models.SessionStateStopped
	close(stopped)
	s.mu.Unlock()

	s.log.Info("recording stopped",
		zap.String("run_id", runID.String()),
		zap.Bool("external", external),
		zap.Int("chunks", a.ChunkCount()),
		zap.Int64("size_bytes", a.SizeBytes()),
		zap.Int("duration_sec", a.DurationSeconds()),
	)
	if external {
		s.publish(runID, models.EventCaptureEnded, models.SessionStateStopped, "screen sharing ended")
	}
	s.publish(runID, models.EventStateChanged, models.SessionStateStopped, "")
	s.publish(runID, models.EventArtifactReady, models.SessionStateStopped, a.Name())
	return a, nil
}

// Upload stores the artifact remotely. An artifact that already has a remote id is never
// uploaded again; its entry is returned as is.
func (s *Session) Upload(ctx context.Context) (models.LibraryEntry, error) {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	s.mu.Lock()
	state, a, runID := s.state, s.artifact, s.runID
	s.mu.Unlock()
	if a == nil || (state != models.SessionStateStopped && state != models.SessionStateUploaded) {
		return models.LibraryEntry{}, ErrNotStopped
	}
	if a.RemoteID() != "" {
		return a.Entry(), nil
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return models.LibraryEntry{}, fmt.Errorf("upload: %w", err)
	}
	sentName := a.Name()
	res, err := s.library.Upload(ctx, token, library.UploadRequest{
		Name:            sentName,
		MimeType:        a.MimeType(),
		Body:            a.Reader(),
		DurationSeconds: a.DurationSeconds(),
		Timestamp:       a.Timestamp(),
	})
	if err != nil {
		s.log.Warn("upload failed", zap.String("name", sentName), zap.Error(err))
		s.publish(runID, models.EventUploadFailed, state, err.Error())
		return models.LibraryEntry{}, err
	}

	name, _ := a.assignRemote(res.VideoID, res.ShareLink)
	s.mu.Lock()
	if s.artifact == a {
		s.state = models.SessionStateUploaded
	}
	s.mu.Unlock()
	s.log.Info("recording uploaded", zap.String("video_id", res.VideoID), zap.Int64("size_bytes", a.SizeBytes()))

	if name != sentName {
		// renamed locally while the upload was in flight
		if err := s.library.RenameEntry(ctx, res.VideoID, name, token); err != nil {
			s.log.Warn("pushing pending name failed", zap.String("video_id", res.VideoID), zap.Error(err))
			a.setName(sentName)
		}
	}

	s.publish(runID, models.EventUploaded, models.SessionStateUploaded, res.ShareLink)
	return a.Entry(), nil
}

// Rename changes the artifact's name. Before upload the rename is local; after upload the
// store is renamed first and the local name changes only if that succeeds.
func (s *Session) Rename(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	a := s.Artifact()
	if a == nil {
		return "", ErrNoArtifact
	}
	if local, ok := a.renameIfLocal(name); ok {
		return local, nil
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}
	if err := s.library.RenameEntry(ctx, a.RemoteID(), name, token); err != nil {
		return "", err
	}
	a.setName(name)
	return name, nil
}

// ShareLink fetches the uploaded recording's share link from the store.
func (s *Session) ShareLink(ctx context.Context) (string, error) {
	a := s.Artifact()
	if a == nil {
		return "", ErrNoArtifact
	}
	id := a.RemoteID()
	if id == "" {
		return "", ErrNotUploaded
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("share link: %w", err)
	}
	link, err := s.library.ShareLink(ctx, id, token)
	if err != nil {
		return "", err
	}
	a.setShareLink(link)
	return link, nil
}

// Export writes the finalized payload through exp. It works whether or not an upload failed.
func (s *Session) Export(ctx context.Context, exp Exporter) (string, error) {
	a := s.Artifact()
	if a == nil {
		return "", ErrNoArtifact
	}
	loc, err := exp.Export(ctx, a.Name(), a.MimeType(), a.Reader(), a.SizeBytes())
	if err != nil {
		return "", fmt.Errorf("export %s: %w", a.Name(), err)
	}
	s.log.Info("recording exported", zap.String("name", a.Name()), zap.String("location", loc))
	return loc, nil
}

// Artifact returns the finalized artifact, or nil while idle or capturing.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SessionStateStopped && s.state != models.SessionStateUploaded {
		return nil
	}
	return s.artifact
}

// Snapshot describes the session for the control API.
type Snapshot struct {
	RunID     string                `json:"run_id,omitempty"`
	State     string                `json:"state"`
	Seconds   int                   `json:"seconds"`
	Elapsed   string                `json:"elapsed"`
	Chunks    int                   `json:"chunks"`
	SizeBytes int64                 `json:"size_bytes"`
	MimeType  string                `json:"mime_type,omitempty"`
	Recording *models.RecordingInfo `json:"recording,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state}
	if s.runID != uuid.Nil {
		snap.RunID = s.runID.String()
	}
	switch s.state {
	case models.SessionStateCapturing, models.SessionStateStopping:
		end := s.now()
		if !s.stoppedAt.IsZero() {
			end = s.stoppedAt
		}
		snap.Seconds = int(end.Sub(s.startedAt) / time.Second)
		snap.Chunks = len(s.chunks)
		snap.SizeBytes = s.size
		if s.stream != nil {
			snap.MimeType = s.stream.MimeType()
		}
	case models.SessionStateStopped, models.SessionStateUploaded:
		info := s.artifact.Info()
		snap.Seconds = info.Duration
		snap.Chunks = s.artifact.ChunkCount()
		snap.SizeBytes = info.SizeBytes
		snap.MimeType = info.MimeType
		snap.Recording = &info
	}
	if snap.Seconds < 0 {
		snap.Seconds = 0
	}
	snap.Elapsed = models.FormatDuration(snap.Seconds)
	return snap
}

func (s *Session) publish(runID uuid.UUID, typ, state, msg string) {
	s.emit(models.SessionEvent{Type: typ, SessionID: runID, State: state, Message: msg})
}

func (s *Session) emit(ev models.SessionEvent) {
	if s.events == nil {
		return
	}
	ev.ID = uuid.New()
	ev.At = s.now().UTC()
	s.events.Publish(ev)
}
