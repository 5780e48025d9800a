package recorder

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aura-webinar/screenrec/internal/models"
)

// timestampLayout is the ISO-8601 UTC form sent to the store.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Artifact is a finalized recording. The payload never changes after Stop;
// only the name and the remote identity do.
type Artifact struct {
	chunks    [][]byte
	size      int64
	mimeType  string
	startedAt time.Time
	stoppedAt time.Time

	mu        sync.RWMutex
	name      string
	remoteID  string
	shareLink string
}

func newArtifact(chunks [][]byte, mimeType string, startedAt, stoppedAt time.Time) *Artifact {
	var size int64
	for _, c := range chunks {
		size += int64(len(c))
	}
	return &Artifact{
		chunks:    chunks,
		size:      size,
		mimeType:  mimeType,
		startedAt: startedAt,
		stoppedAt: stoppedAt,
		name:      fmt.Sprintf("recording_%d.%s", stoppedAt.UnixMilli(), extensionFor(mimeType)),
	}
}

func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(base) {
	case "video/webm", "audio/webm":
		return "webm"
	case "video/x-ivf":
		return "ivf"
	case "video/mp4":
		return "mp4"
	default:
		return "bin"
	}
}

func (a *Artifact) MimeType() string     { return a.mimeType }
func (a *Artifact) StartedAt() time.Time { return a.startedAt }
func (a *Artifact) StoppedAt() time.Time { return a.stoppedAt }
func (a *Artifact) SizeBytes() int64     { return a.size }
func (a *Artifact) ChunkCount() int      { return len(a.chunks) }

// DurationSeconds is the capture time truncated to whole seconds.
func (a *Artifact) DurationSeconds() int {
	d := a.stoppedAt.Sub(a.startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Timestamp is the finalization time in ISO-8601 UTC.
func (a *Artifact) Timestamp() string {
	return a.stoppedAt.UTC().Format(timestampLayout)
}

// Payload returns the chunks concatenated in capture order.
func (a *Artifact) Payload() []byte {
	buf := make([]byte, 0, a.size)
	for _, c := range a.chunks {
		buf = append(buf, c...)
	}
	return buf
}

// Reader streams the payload without copying it.
func (a *Artifact) Reader() io.Reader {
	readers := make([]io.Reader, len(a.chunks))
	for i, c := range a.chunks {
		readers[i] = bytes.NewReader(c)
	}
	return io.MultiReader(readers...)
}

func (a *Artifact) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name
}

func (a *Artifact) RemoteID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.remoteID
}

func (a *Artifact) ShareLink() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.shareLink
}

func (a *Artifact) setName(name string) {
	a.mu.Lock()
	a.name = name
	a.mu.Unlock()
}

// renameIfLocal renames an artifact that has no remote identity yet. The container extension
// is appended unless the new name already ends in it. It reports false when the artifact is already uploaded.
func (a *Artifact) renameIfLocal(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.remoteID != "" {
		return "", false
	}
	ext := "." + extensionFor(a.mimeType)
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	a.name = name
	return name, true
}

// assignRemote records the store's identity and returns the name at that moment.
// The first assignment wins.
func (a *Artifact) assignRemote(id, shareLink string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.remoteID != "" {
		return a.name, false
	}
	a.remoteID = id
	a.shareLink = shareLink
	return a.name, true
}

func (a *Artifact) setShareLink(link string) {
	a.mu.Lock()
	a.shareLink = link
	a.mu.Unlock()
}

// Entry is the library view of an uploaded artifact.
func (a *Artifact) Entry() models.LibraryEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return models.LibraryEntry{
		ID:        a.remoteID,
		Name:      a.name,
		Timestamp: a.stoppedAt.UTC(),
		Duration:  a.DurationSeconds(),
		ShareLink: a.shareLink,
	}
}

func (a *Artifact) Info() models.RecordingInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d := a.DurationSeconds()
	return models.RecordingInfo{
		Name:      a.name,
		MimeType:  a.mimeType,
		Duration:  d,
		Elapsed:   models.FormatDuration(d),
		SizeBytes: a.size,
		SizeMB:    models.FormatSizeMB(a.size),
		CreatedAt: a.stoppedAt.UTC(),
		RemoteID:  a.remoteID,
		ShareLink: a.shareLink,
	}
}
