package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const viewerBuffer = 64

type frameKind int

const (
	frameAttached frameKind = iota
	frameChunk
	frameDetached
)

type previewFrame struct {
	kind     frameKind
	mimeType string
	data     []byte
}

type previewViewer struct {
	send chan previewFrame
}

// Preview relays the live capture to preview pages. The first chunk of a stream holds the
// container header and is replayed to viewers that join mid-capture.
type Preview struct {
	mu       sync.Mutex
	streamID string
	mimeType string
	init     []byte
	viewers  map[*previewViewer]struct{}
	logger   *zap.Logger
}

// NewPreview creates an idle preview relay.
func NewPreview(logger *zap.Logger) *Preview {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preview{
		viewers: make(map[*previewViewer]struct{}),
		logger:  logger.With(zap.String("component", "preview")),
	}
}

// Attach starts relaying a new capture stream.
func (p *Preview) Attach(streamID, mimeType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamID = streamID
	p.mimeType = mimeType
	p.init = nil
	p.broadcastLocked(previewFrame{kind: frameAttached, mimeType: mimeType})
}

// Write relays one chunk of the attached stream.
func (p *Preview) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamID == "" {
		return
	}
	if p.init == nil {
		p.init = append([]byte(nil), chunk...)
	}
	p.broadcastLocked(previewFrame{kind: frameChunk, data: chunk})
}

// Detach ends the relay of streamID. Calls for other streams are ignored.
func (p *Preview) Detach(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamID != streamID {
		return
	}
	p.streamID = ""
	p.mimeType = ""
	p.init = nil
	p.broadcastLocked(previewFrame{kind: frameDetached})
}

// Active reports whether a stream is attached.
func (p *Preview) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamID != ""
}

// broadcastLocked never blocks; a viewer that falls behind misses frames.
func (p *Preview) broadcastLocked(f previewFrame) {
	for v := range p.viewers {
		select {
		case v.send <- f:
		default:
		}
	}
}

func (p *Preview) subscribe() *previewViewer {
	v := &previewViewer{send: make(chan previewFrame, viewerBuffer)}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamID != "" {
		v.send <- previewFrame{kind: frameAttached, mimeType: p.mimeType}
		if p.init != nil {
			v.send <- previewFrame{kind: frameChunk, data: p.init}
		}
	}
	p.viewers[v] = struct{}{}
	return v
}

func (p *Preview) unsubscribe(v *previewViewer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.viewers, v)
}

type previewControl struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
}

// ServePreview streams the live capture to a viewer WebSocket: a text "attached" frame
// with the MIME type, binary chunks, then a text "detached" frame when capture stops.
func ServePreview(p *Preview, logger *zap.Logger, allowOrigin func(origin string) bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := newUpgrader(allowOrigin)
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("preview upgrade failed", zap.Error(err))
			return
		}
		v := p.subscribe()
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(4096)
			_ = conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		writeViewer(conn, v, closed)
		p.unsubscribe(v)
		_ = conn.Close()
	}
}

func writeViewer(conn *websocket.Conn, v *previewViewer, closed <-chan struct{}) {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case f := <-v.send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			var err error
			switch f.kind {
			case frameChunk:
				err = conn.WriteMessage(websocket.BinaryMessage, f.data)
			case frameAttached:
				err = writeControl(conn, previewControl{Type: "attached", MimeType: f.mimeType})
			case frameDetached:
				err = writeControl(conn, previewControl{Type: "detached"})
			}
			if err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeControl(conn *websocket.Conn, msg previewControl) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
